package vault

import (
	"log/slog"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Event types emitted by the orchestrator.
const (
	EventTypeDepositCompleted    = "vault.deposit.completed"
	EventTypeWithdrawalCompleted = "vault.withdrawal.completed"
)

// Event is the canonical payload handed to emitters after a committed ledger
// mutation.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter receives events after the entry gate has been released.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards events. It is the engine default so callers that do not
// wire an emitter pay no cost.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// LogEmitter writes events to the supplied structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements Emitter.
func (l LogEmitter) Emit(event Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, len(event.Attributes)*2)
	for key, value := range event.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	logger.Info(event.Type, attrs...)
}

// NewDepositCompletedEvent builds the canonical payload for a completed
// deposit. The credited amount is always the adapter-reported actual output.
func NewDepositCompletedEvent(dep *Deposit) Event {
	attributes := map[string]string{
		"id":          dep.ID,
		"account":     dep.Account.Hex(),
		"sourceAsset": dep.SourceAsset.Hex(),
		"amountIn":    amountString(dep.AmountIn),
		"credited":    amountString(dep.Credited),
	}
	return Event{Type: EventTypeDepositCompleted, Attributes: attributes}
}

// NewWithdrawalCompletedEvent builds the canonical payload for a completed
// withdrawal.
func NewWithdrawalCompletedEvent(account ethcommon.Address, amount *big.Int) Event {
	attributes := map[string]string{
		"account": account.Hex(),
		"amount":  amountString(amount),
	}
	return Event{Type: EventTypeWithdrawalCompleted, Attributes: attributes}
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
