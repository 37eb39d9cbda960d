package vault

import (
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func TestLedgerCreditDebit(t *testing.T) {
	ledger := NewLedger()
	alice := ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob := ethcommon.HexToAddress("0x00000000000000000000000000000000000000bb")

	if err := ledger.Credit(alice, big.NewInt(500)); err != nil {
		t.Fatalf("credit alice: %v", err)
	}
	if err := ledger.Credit(bob, big.NewInt(250)); err != nil {
		t.Fatalf("credit bob: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected alice balance 500, got %s", got)
	}
	if got := ledger.AggregateCredited(); got.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("expected aggregate 750, got %s", got)
	}

	if err := ledger.Debit(alice, big.NewInt(200)); err != nil {
		t.Fatalf("debit alice: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected alice balance 300, got %s", got)
	}
	if got := ledger.AggregateCredited(); got.Cmp(big.NewInt(550)) != 0 {
		t.Fatalf("expected aggregate 550, got %s", got)
	}
}

func TestLedgerDebitInsufficient(t *testing.T) {
	ledger := NewLedger()
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
	if err := ledger.Credit(account, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Debit(account, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := ledger.BalanceOf(account); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed debit must not change balance, got %s", got)
	}
	if got := ledger.AggregateCredited(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed debit must not change aggregate, got %s", got)
	}
}

func TestLedgerZeroAmountRejected(t *testing.T) {
	ledger := NewLedger()
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000dd")
	if err := ledger.Credit(account, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for zero credit, got %v", err)
	}
	if err := ledger.Credit(account, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for nil credit, got %v", err)
	}
	if err := ledger.Debit(account, big.NewInt(-5)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for negative debit, got %v", err)
	}
}

func TestLedgerExactDebitRemovesAccount(t *testing.T) {
	ledger := NewLedger()
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000ee")
	if err := ledger.Credit(account, big.NewInt(42)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Debit(account, big.NewInt(42)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := ledger.BalanceOf(account); got.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", got)
	}
	if records := ledger.Snapshot(); len(records) != 0 {
		t.Fatalf("expected empty snapshot, got %d records", len(records))
	}
}

func TestLedgerSnapshotDeterministic(t *testing.T) {
	ledger := NewLedger()
	accounts := []ethcommon.Address{
		ethcommon.HexToAddress("0x0000000000000000000000000000000000000003"),
		ethcommon.HexToAddress("0x0000000000000000000000000000000000000001"),
		ethcommon.HexToAddress("0x0000000000000000000000000000000000000002"),
	}
	for i, account := range accounts {
		if err := ledger.Credit(account, big.NewInt(int64(i+1))); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	records := ledger.Snapshot()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].Account.Hex() >= records[i].Account.Hex() {
			t.Fatalf("snapshot not sorted at index %d", i)
		}
	}
	// Mutating a returned balance must not leak into the ledger.
	records[0].Balance.SetInt64(9999)
	if got := ledger.BalanceOf(records[0].Account); got.Cmp(big.NewInt(9999)) == 0 {
		t.Fatalf("snapshot aliases internal balance")
	}
}

func TestLedgerRestore(t *testing.T) {
	ledger := NewLedger()
	records := []BalanceRecord{
		{Account: ethcommon.HexToAddress("0x0000000000000000000000000000000000000001"), Balance: big.NewInt(10)},
		{Account: ethcommon.HexToAddress("0x0000000000000000000000000000000000000002"), Balance: big.NewInt(0)},
		{Account: ethcommon.HexToAddress("0x0000000000000000000000000000000000000003"), Balance: big.NewInt(30)},
	}
	if err := ledger.Restore(records); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := ledger.AggregateCredited(); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected aggregate 40, got %s", got)
	}
	if snapshot := ledger.Snapshot(); len(snapshot) != 2 {
		t.Fatalf("zero balances must be dropped, got %d records", len(snapshot))
	}
}

func TestLedgerAggregateMatchesSumOfBalances(t *testing.T) {
	ledger := NewLedger()
	accounts := []ethcommon.Address{
		ethcommon.HexToAddress("0x0000000000000000000000000000000000000011"),
		ethcommon.HexToAddress("0x0000000000000000000000000000000000000022"),
		ethcommon.HexToAddress("0x0000000000000000000000000000000000000033"),
	}
	ops := []struct {
		account ethcommon.Address
		credit  int64
		debit   int64
	}{
		{account: accounts[0], credit: 1000},
		{account: accounts[1], credit: 350},
		{account: accounts[0], debit: 400},
		{account: accounts[2], credit: 75},
		{account: accounts[1], debit: 350},
		{account: accounts[0], credit: 1},
	}
	for _, op := range ops {
		if op.credit > 0 {
			if err := ledger.Credit(op.account, big.NewInt(op.credit)); err != nil {
				t.Fatalf("credit: %v", err)
			}
		}
		if op.debit > 0 {
			if err := ledger.Debit(op.account, big.NewInt(op.debit)); err != nil {
				t.Fatalf("debit: %v", err)
			}
		}
		sum := big.NewInt(0)
		for _, record := range ledger.Snapshot() {
			sum.Add(sum, record.Balance)
		}
		if sum.Cmp(ledger.AggregateCredited()) != 0 {
			t.Fatalf("aggregate %s diverged from balance sum %s", ledger.AggregateCredited(), sum)
		}
	}
}

func TestLedgerRestoreRejectsInvalid(t *testing.T) {
	account := ethcommon.HexToAddress("0x0000000000000000000000000000000000000009")
	if err := NewLedger().Restore([]BalanceRecord{{Account: account, Balance: big.NewInt(-1)}}); err == nil {
		t.Fatalf("expected error for negative persisted balance")
	}
	dupes := []BalanceRecord{
		{Account: account, Balance: big.NewInt(1)},
		{Account: account, Balance: big.NewInt(2)},
	}
	if err := NewLedger().Restore(dupes); err == nil {
		t.Fatalf("expected error for duplicate persisted balance")
	}
}
