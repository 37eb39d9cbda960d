package storage

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	vault "convault/native/vault"
)

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	store, err := Open("file:vaultd_test_" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndLoadBalances(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	alice := ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob := ethcommon.HexToAddress("0x00000000000000000000000000000000000000bb")
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, store.SaveBalance(ctx, vault.BalanceRecord{Account: alice, Balance: big.NewInt(500), UpdatedAt: now}))
	require.NoError(t, store.SaveBalance(ctx, vault.BalanceRecord{Account: bob, Balance: big.NewInt(250), UpdatedAt: now}))
	require.NoError(t, store.SaveAggregate(ctx, big.NewInt(750)))

	records, err := store.LoadBalances(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	total, err := store.LoadAggregate(ctx)
	require.NoError(t, err)
	require.Zero(t, total.Cmp(big.NewInt(750)))

	// Upsert overwrites, zero balance deletes.
	require.NoError(t, store.SaveBalance(ctx, vault.BalanceRecord{Account: alice, Balance: big.NewInt(100), UpdatedAt: now}))
	require.NoError(t, store.SaveBalance(ctx, vault.BalanceRecord{Account: bob, Balance: big.NewInt(0), UpdatedAt: now}))
	records, err = store.LoadBalances(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, alice, records[0].Account)
	require.Zero(t, records[0].Balance.Cmp(big.NewInt(100)))
}

func TestSaveBalanceRejectsNegative(t *testing.T) {
	store := openTestDB(t)
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000cc")
	err := store.SaveBalance(context.Background(), vault.BalanceRecord{Account: account, Balance: big.NewInt(-1)})
	require.Error(t, err)
}

func TestLoadAggregateEmpty(t *testing.T) {
	store := openTestDB(t)
	total, err := store.LoadAggregate(context.Background())
	require.NoError(t, err)
	require.Zero(t, total.Sign())
}

func TestDepositJournal(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000dd")
	asset := ethcommon.HexToAddress("0x0000000000000000000000000000000000000002")

	for i := 1; i <= 3; i++ {
		dep := vault.Deposit{
			ID:          "dep-" + string(rune('0'+i)),
			Account:     account,
			SourceAsset: asset,
			AmountIn:    big.NewInt(int64(i * 100)),
			Credited:    big.NewInt(int64(i * 99)),
			CreatedAt:   time.Unix(int64(1700000000+i), 0),
		}
		require.NoError(t, store.RecordDeposit(ctx, dep))
	}

	deposits, err := store.ListDeposits(ctx, 2)
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	require.Equal(t, "dep-3", deposits[0].ID)
	require.Equal(t, "dep-2", deposits[1].ID)
	require.Zero(t, deposits[0].Credited.Cmp(big.NewInt(297)))

	// Duplicate journal ids are rejected.
	err = store.RecordDeposit(ctx, vault.Deposit{
		ID:          "dep-1",
		Account:     account,
		SourceAsset: asset,
		AmountIn:    big.NewInt(1),
		Credited:    big.NewInt(1),
		CreatedAt:   time.Unix(1700000010, 0),
	})
	require.Error(t, err)
}

func TestRecordWithdrawal(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000ee")

	wd := vault.Withdrawal{ID: "wd-1", Account: account, Amount: big.NewInt(40), CreatedAt: time.Unix(1700000000, 0)}
	require.NoError(t, store.RecordWithdrawal(ctx, wd))
	require.Error(t, store.RecordWithdrawal(ctx, wd))
	require.Error(t, store.RecordWithdrawal(ctx, vault.Withdrawal{ID: "", Account: account, Amount: big.NewInt(1)}))
}

func TestDeleteWithdrawal(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000ee")

	wd := vault.Withdrawal{ID: "wd-1", Account: account, Amount: big.NewInt(40), CreatedAt: time.Unix(1700000000, 0)}
	require.NoError(t, store.RecordWithdrawal(ctx, wd))
	require.NoError(t, store.DeleteWithdrawal(ctx, wd.ID))

	// The id is free again after deletion; unknown ids delete cleanly.
	require.NoError(t, store.RecordWithdrawal(ctx, wd))
	require.NoError(t, store.DeleteWithdrawal(ctx, "wd-missing"))
	require.Error(t, store.DeleteWithdrawal(ctx, " "))
}

func TestFileDSN(t *testing.T) {
	dsn, err := FileDSN("vault.db")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dsn, "file:/"))
	require.Contains(t, dsn, "_journal_mode=WAL")

	_, err = FileDSN("  ")
	require.ErrorIs(t, err, ErrPathRequired)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.ErrorIs(t, err, ErrPathRequired)
}
