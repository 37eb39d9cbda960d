package vault

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// BalanceRecord captures a single account's credited settlement balance for
// persistence and restoration.
type BalanceRecord struct {
	Account   ethcommon.Address
	Balance   *big.Int
	UpdatedAt time.Time
}

// Ledger is the single source of truth for settlement-asset balances owed to
// depositors. Credit and Debit are pure integer arithmetic with no external
// calls; the orchestrator must invoke them only while holding its entry gate.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[ethcommon.Address]*big.Int
	aggregate *big.Int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[ethcommon.Address]*big.Int),
		aggregate: big.NewInt(0),
	}
}

// Credit increases the account's balance and the aggregate total by amount.
func (l *Ledger) Credit(account ethcommon.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.balances[account]
	if !ok {
		current = big.NewInt(0)
	}
	l.balances[account] = new(big.Int).Add(current, amount)
	l.aggregate = new(big.Int).Add(l.aggregate, amount)
	return nil
}

// Debit decreases the account's balance and the aggregate total by amount. It
// fails with ErrInsufficientBalance when the account holds less than amount and
// leaves both figures untouched.
func (l *Ledger) Debit(account ethcommon.Address, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.balances[account]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	remaining := new(big.Int).Sub(current, amount)
	if remaining.Sign() == 0 {
		delete(l.balances, account)
	} else {
		l.balances[account] = remaining
	}
	l.aggregate = new(big.Int).Sub(l.aggregate, amount)
	return nil
}

// BalanceOf returns the credited balance for the account. Accounts never seen
// by the ledger report zero.
func (l *Ledger) BalanceOf(account ethcommon.Address) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	current, ok := l.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(current)
}

// AggregateCredited returns the total settlement value credited across all
// accounts.
func (l *Ledger) AggregateCredited() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.aggregate)
}

// Snapshot returns every non-zero balance in a deterministic order.
func (l *Ledger) Snapshot() []BalanceRecord {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]BalanceRecord, 0, len(l.balances))
	for account, balance := range l.balances {
		records = append(records, BalanceRecord{
			Account: account,
			Balance: new(big.Int).Set(balance),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Account.Hex() < records[j].Account.Hex()
	})
	return records
}

// Restore replaces the ledger contents with the supplied records, recomputing
// the aggregate so the sum-of-balances invariant holds by construction.
func (l *Ledger) Restore(records []BalanceRecord) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	balances := make(map[ethcommon.Address]*big.Int, len(records))
	aggregate := big.NewInt(0)
	for _, record := range records {
		if record.Balance == nil || record.Balance.Sign() < 0 {
			return fmt.Errorf("ledger: invalid persisted balance for %s", record.Account.Hex())
		}
		if record.Balance.Sign() == 0 {
			continue
		}
		if _, exists := balances[record.Account]; exists {
			return fmt.Errorf("ledger: duplicate persisted balance for %s", record.Account.Hex())
		}
		balances[record.Account] = new(big.Int).Set(record.Balance)
		aggregate = new(big.Int).Add(aggregate, record.Balance)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = balances
	l.aggregate = aggregate
	return nil
}
