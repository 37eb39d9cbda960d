package vault

import "sync/atomic"

// entryGate is the single-flight lock wrapped around every mutating operation.
// It is deliberately non-blocking: the threat model is not concurrent callers
// but the untrusted exchange adapter re-entering the vault while an operation
// holds the gate across the external call.
type entryGate struct {
	busy atomic.Bool
}

// acquire transitions the gate from idle to busy, failing with ErrReentrantCall
// when another operation is already in flight.
func (g *entryGate) acquire() error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// release returns the gate to idle. Callers must release on every exit path.
func (g *entryGate) release() {
	g.busy.Store(false)
}
