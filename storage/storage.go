package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	vault "convault/native/vault"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Storage wraps the vaultd persistence layer.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("vaultd storage path must be configured")

// filePragmas tune the on-disk database for a single long-lived writer:
// WAL keeps readers unblocked during journal appends, and the busy timeout
// absorbs checkpoint contention instead of surfacing SQLITE_BUSY.
var filePragmas = []string{
	"mode=rwc",
	"_busy_timeout=5000",
	"_journal_mode=WAL",
	"_foreign_keys=on",
}

// FileDSN builds the DSN Open expects from a plain filesystem path.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return "file:" + abs + "?" + strings.Join(filePragmas, "&"), nil
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveBalance upserts an account's credited settlement balance.
func (s *Storage) SaveBalance(ctx context.Context, record vault.BalanceRecord) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	balance := big.NewInt(0)
	if record.Balance != nil {
		if record.Balance.Sign() < 0 {
			return fmt.Errorf("balance must not be negative")
		}
		balance = record.Balance
	}
	updatedAt := time.Now().UTC()
	if !record.UpdatedAt.IsZero() {
		updatedAt = record.UpdatedAt.UTC()
	}
	if balance.Sign() == 0 {
		if _, err := s.db.ExecContext(ctx, `
        DELETE FROM vault_balances WHERE account = ?
    `, record.Account.Hex()); err != nil {
			return fmt.Errorf("delete balance: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO vault_balances(account, balance, updated_at)
        VALUES(?, ?, ?)
        ON CONFLICT(account) DO UPDATE SET
            balance=excluded.balance,
            updated_at=excluded.updated_at
    `, record.Account.Hex(), balance.String(), updatedAt)
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// SaveAggregate upserts the aggregate credited total.
func (s *Storage) SaveAggregate(ctx context.Context, total *big.Int) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	normalized := big.NewInt(0)
	if total != nil {
		if total.Sign() < 0 {
			return fmt.Errorf("aggregate must not be negative")
		}
		normalized = total
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO vault_aggregate(id, total, updated_at)
        VALUES(1, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET
            total=excluded.total,
            updated_at=CURRENT_TIMESTAMP
    `, normalized.String())
	if err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}
	return nil
}

// LoadAggregate returns the persisted aggregate credited total.
func (s *Storage) LoadAggregate(ctx context.Context) (*big.Int, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `SELECT total FROM vault_aggregate WHERE id = 1`)
	var stored string
	if err := row.Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("query aggregate: %w", err)
	}
	total, err := parseStoredAmount(stored)
	if err != nil {
		return nil, fmt.Errorf("parse aggregate: %w", err)
	}
	return total, nil
}

// LoadBalances returns all persisted account balances.
func (s *Storage) LoadBalances(ctx context.Context) ([]vault.BalanceRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT account, balance, updated_at
        FROM vault_balances
    `)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()
	var records []vault.BalanceRecord
	for rows.Next() {
		var account, stored string
		var updatedAt time.Time
		if err := rows.Scan(&account, &stored, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balance, err := parseStoredAmount(stored)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", account, err)
		}
		records = append(records, vault.BalanceRecord{
			Account:   ethcommon.HexToAddress(account),
			Balance:   balance,
			UpdatedAt: updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return records, nil
}

// RecordDeposit appends a committed deposit to the journal.
func (s *Storage) RecordDeposit(ctx context.Context, dep vault.Deposit) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(dep.ID) == "" {
		return fmt.Errorf("deposit id required")
	}
	if dep.AmountIn == nil || dep.Credited == nil {
		return fmt.Errorf("deposit amounts required")
	}
	createdAt := dep.CreatedAt.UTC()
	if dep.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO deposit_journal(id, account, source_asset, amount_in, credited, created_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, dep.ID, dep.Account.Hex(), dep.SourceAsset.Hex(), dep.AmountIn.String(), dep.Credited.String(), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("record deposit: %w", err)
	}
	return nil
}

// RecordWithdrawal appends a committed withdrawal to the journal.
func (s *Storage) RecordWithdrawal(ctx context.Context, wd vault.Withdrawal) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(wd.ID) == "" {
		return fmt.Errorf("withdrawal id required")
	}
	if wd.Amount == nil {
		return fmt.Errorf("withdrawal amount required")
	}
	createdAt := wd.CreatedAt.UTC()
	if wd.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO withdrawal_journal(id, account, amount, created_at)
        VALUES(?, ?, ?, ?)
    `, wd.ID, wd.Account.Hex(), wd.Amount.String(), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("record withdrawal: %w", err)
	}
	return nil
}

// DeleteWithdrawal removes a journal entry whose custody transfer was
// unwound. Deleting an unknown id is not an error.
func (s *Storage) DeleteWithdrawal(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("withdrawal id required")
	}
	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM withdrawal_journal WHERE id = ?
    `, id); err != nil {
		return fmt.Errorf("delete withdrawal: %w", err)
	}
	return nil
}

// ListDeposits returns the most recent journal entries, newest first.
func (s *Storage) ListDeposits(ctx context.Context, limit int) ([]vault.Deposit, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, account, source_asset, amount_in, credited, created_at
        FROM deposit_journal
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query deposits: %w", err)
	}
	defer rows.Close()
	var deposits []vault.Deposit
	for rows.Next() {
		var dep vault.Deposit
		var account, sourceAsset, amountIn, credited string
		var createdAt int64
		if err := rows.Scan(&dep.ID, &account, &sourceAsset, &amountIn, &credited, &createdAt); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		dep.Account = ethcommon.HexToAddress(account)
		dep.SourceAsset = ethcommon.HexToAddress(sourceAsset)
		if dep.AmountIn, err = parseStoredAmount(amountIn); err != nil {
			return nil, fmt.Errorf("parse deposit amount: %w", err)
		}
		if dep.Credited, err = parseStoredAmount(credited); err != nil {
			return nil, fmt.Errorf("parse deposit credit: %w", err)
		}
		dep.CreatedAt = time.Unix(createdAt, 0).UTC()
		deposits = append(deposits, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deposits: %w", err)
	}
	return deposits, nil
}

func parseStoredAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS vault_balances (
    account TEXT PRIMARY KEY,
    balance TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_aggregate (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    total TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS deposit_journal (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    source_asset TEXT NOT NULL,
    amount_in TEXT NOT NULL,
    credited TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deposit_journal_account ON deposit_journal(account, created_at);

CREATE TABLE IF NOT EXISTS withdrawal_journal (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    amount TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_withdrawal_journal_account ON withdrawal_journal(account, created_at);
`
