package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"convault/observability"
)

// Deposit summarises a committed deposit. Credited always carries the
// adapter-reported actual output, never the estimate.
type Deposit struct {
	ID          string
	Account     ethcommon.Address
	SourceAsset ethcommon.Address
	AmountIn    *big.Int
	Credited    *big.Int
	CreatedAt   time.Time
}

// Withdrawal summarises a committed withdrawal.
type Withdrawal struct {
	ID        string
	Account   ethcommon.Address
	Amount    *big.Int
	CreatedAt time.Time
}

// Estimate is the result of a dry-run conversion. It never mutates state.
type Estimate struct {
	SourceAsset ethcommon.Address
	AmountIn    *big.Int
	AmountOut   *big.Int
}

// Status is a lightweight snapshot for operator dashboards.
type Status struct {
	Accounts        int
	AggregateWei    *big.Int
	CapacityCeiling *big.Int
	Paused          bool
}

// LedgerStore persists committed ledger state and the operation journal.
type LedgerStore interface {
	SaveBalance(ctx context.Context, record BalanceRecord) error
	SaveAggregate(ctx context.Context, total *big.Int) error
	LoadBalances(ctx context.Context) ([]BalanceRecord, error)
	RecordDeposit(ctx context.Context, dep Deposit) error
	RecordWithdrawal(ctx context.Context, wd Withdrawal) error
	DeleteWithdrawal(ctx context.Context, id string) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Adapter         ExchangeAdapter
	Custody         Custody
	SettlementAsset ethcommon.Address
	VaultAddress    ethcommon.Address
	Policy          PolicyParameters
	Store           LedgerStore
	Emitter         Emitter
}

// Engine is the conversion orchestrator: it composes the ledger, capacity
// guard, slippage policy, and entry gate around every deposit and withdrawal
// path. A single entry gate serialises all mutating operations and stays held
// across the external adapter call, so a reentrant callback from the adapter
// fails cleanly instead of observing in-flight state.
type Engine struct {
	gate entryGate

	mu         sync.RWMutex
	params     PolicyParameters
	settlement ethcommon.Address
	adapter    ExchangeAdapter

	custody   Custody
	vaultAddr ethcommon.Address
	ledger    *Ledger
	store     LedgerStore
	emitter   Emitter
	clock     func() time.Time
	metrics   *observability.VaultMetrics
	tracer    trace.Tracer
}

// NewEngine constructs an engine, restoring persisted balances when a store is
// configured.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("vault: exchange adapter required")
	}
	if cfg.Custody == nil {
		return nil, fmt.Errorf("vault: custody required")
	}
	if cfg.SettlementAsset == (ethcommon.Address{}) {
		return nil, fmt.Errorf("vault: settlement asset required")
	}
	if cfg.Policy.SlippageToleranceBps > MaxSlippageToleranceBps {
		return nil, fmt.Errorf("vault: slippage tolerance %d exceeds maximum %d", cfg.Policy.SlippageToleranceBps, MaxSlippageToleranceBps)
	}
	params := cfg.Policy.Copy()
	if params.SwapDeadline <= 0 {
		params.SwapDeadline = DefaultSwapDeadline
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	engine := &Engine{
		params:     params,
		settlement: cfg.SettlementAsset,
		adapter:    cfg.Adapter,
		custody:    cfg.Custody,
		vaultAddr:  cfg.VaultAddress,
		ledger:     NewLedger(),
		store:      cfg.Store,
		emitter:    emitter,
		clock:      time.Now,
		metrics:    observability.Vault(),
		tracer:     otel.Tracer("vaultd/vault"),
	}
	if cfg.Store != nil {
		balances, err := cfg.Store.LoadBalances(ctx)
		if err != nil {
			return nil, fmt.Errorf("vault: load persisted balances: %w", err)
		}
		if err := engine.ledger.Restore(balances); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// SetClock overrides the time source, primarily for deterministic tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e.emitter = emitter
}

// UpdatePolicy swaps the policy snapshot. Callers are the administrative
// surface; in-flight operations keep the snapshot they read at entry.
func (e *Engine) UpdatePolicy(params PolicyParameters) error {
	if e == nil {
		return fmt.Errorf("vault engine not initialised")
	}
	if params.SlippageToleranceBps > MaxSlippageToleranceBps {
		return fmt.Errorf("vault: slippage tolerance %d exceeds maximum %d", params.SlippageToleranceBps, MaxSlippageToleranceBps)
	}
	next := params.Copy()
	if next.SwapDeadline <= 0 {
		next.SwapDeadline = DefaultSwapDeadline
	}
	e.mu.Lock()
	e.params = next
	e.mu.Unlock()
	return nil
}

// Policy returns a copy of the current policy snapshot.
func (e *Engine) Policy() PolicyParameters {
	if e == nil {
		return PolicyParameters{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Copy()
}

// SetExchangeAdapter swaps the adapter identity between transactions.
func (e *Engine) SetExchangeAdapter(adapter ExchangeAdapter) error {
	if e == nil {
		return fmt.Errorf("vault engine not initialised")
	}
	if adapter == nil {
		return fmt.Errorf("vault: exchange adapter required")
	}
	e.mu.Lock()
	e.adapter = adapter
	e.mu.Unlock()
	return nil
}

// SetSettlementAsset swaps the settlement asset identity between transactions.
func (e *Engine) SetSettlementAsset(asset ethcommon.Address) error {
	if e == nil {
		return fmt.Errorf("vault engine not initialised")
	}
	if asset == (ethcommon.Address{}) {
		return fmt.Errorf("vault: settlement asset required")
	}
	e.mu.Lock()
	e.settlement = asset
	e.mu.Unlock()
	return nil
}

func (e *Engine) snapshot() (PolicyParameters, ethcommon.Address, ExchangeAdapter) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Copy(), e.settlement, e.adapter
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// DepositNative converts a native-asset deposit through the adapter's wrapped
// representation and credits the depositor in settlement terms.
func (e *Engine) DepositNative(ctx context.Context, account ethcommon.Address, amountIn *big.Int) (*Deposit, error) {
	return e.deposit(ctx, "deposit_native", account, nil, amountIn)
}

// DepositToken accepts a deposit denominated in an arbitrary asset. When the
// asset is the settlement asset itself the conversion is skipped and the
// depositor is credited exactly amountIn.
func (e *Engine) DepositToken(ctx context.Context, account ethcommon.Address, asset ethcommon.Address, amountIn *big.Int) (*Deposit, error) {
	return e.deposit(ctx, "deposit_token", account, &asset, amountIn)
}

func (e *Engine) deposit(ctx context.Context, operation string, account ethcommon.Address, source *ethcommon.Address, amountIn *big.Int) (*Deposit, error) {
	if e == nil {
		return nil, fmt.Errorf("vault engine not initialised")
	}
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "vault."+operation,
		trace.WithAttributes(attribute.String("account", account.Hex())))
	defer span.End()
	dep, err := e.runDeposit(ctx, account, source, amountIn)
	e.finish(span, operation, start, err)
	if err != nil {
		return nil, err
	}
	// The entry gate is released before emission so emitters may query state.
	e.emitter.Emit(NewDepositCompletedEvent(dep))
	return dep, nil
}

// runDeposit executes the shared deposit sequence while holding the entry
// gate: pull, quote, capacity check, minimum-output bound, execute, credit.
func (e *Engine) runDeposit(ctx context.Context, account ethcommon.Address, source *ethcommon.Address, amountIn *big.Int) (*Deposit, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := e.gate.acquire(); err != nil {
		return nil, err
	}
	defer e.gate.release()
	params, settlement, adapter := e.snapshot()
	if params.Paused {
		return nil, ErrPaused
	}
	if params.SlippageToleranceBps > MaxSlippageToleranceBps {
		return nil, fmt.Errorf("vault: slippage tolerance out of range")
	}
	amount := new(big.Int).Set(amountIn)
	var sourceAsset ethcommon.Address
	if source != nil {
		sourceAsset = *source
	} else {
		wrapper, err := adapter.NativeWrapperAsset(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve native wrapper: %w", err)
		}
		sourceAsset = wrapper
	}
	// Custody pull precedes any pricing call an adversarial caller could skew.
	if err := e.custody.Pull(ctx, sourceAsset, account, amount); err != nil {
		return nil, fmt.Errorf("custody pull: %w", err)
	}
	credited := amount
	if sourceAsset != settlement {
		path := Path{sourceAsset, settlement}
		quote, err := adapter.Quote(ctx, amount, path)
		if err != nil {
			e.refund(ctx, sourceAsset, account, amount)
			return nil, fmt.Errorf("quote conversion: %w", err)
		}
		if quote.NoPath || quote.Amount == nil || quote.Amount.Sign() <= 0 {
			e.refund(ctx, sourceAsset, account, amount)
			return nil, ErrNoConversionPath
		}
		estimated := new(big.Int).Set(quote.Amount)
		if !withinCapacity(e.ledger.AggregateCredited(), estimated, params.CapacityCeiling) {
			e.refund(ctx, sourceAsset, account, amount)
			return nil, ErrCapacityExceeded
		}
		minOut := minimumOutput(estimated, params.SlippageToleranceBps)
		deadline := e.now().Add(params.SwapDeadline)
		actual, err := adapter.Execute(ctx, amount, minOut, path, e.vaultAddr, deadline)
		if err != nil {
			e.refund(ctx, sourceAsset, account, amount)
			return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
		}
		if actual == nil || actual.Cmp(minOut) < 0 {
			e.refund(ctx, sourceAsset, account, amount)
			return nil, ErrConversionFailed
		}
		credited = new(big.Int).Set(actual)
	} else if !withinCapacity(e.ledger.AggregateCredited(), amount, params.CapacityCeiling) {
		// Direct settlement deposits carry no estimate risk: the delta is exact.
		e.refund(ctx, sourceAsset, account, amount)
		return nil, ErrCapacityExceeded
	}
	if err := e.ledger.Credit(account, credited); err != nil {
		e.refund(ctx, sourceAsset, account, amount)
		return nil, err
	}
	dep := &Deposit{
		ID:          uuid.NewString(),
		Account:     account,
		SourceAsset: sourceAsset,
		AmountIn:    amount,
		Credited:    credited,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.persistDeposit(ctx, account, dep); err != nil {
		if revertErr := e.ledger.Debit(account, credited); revertErr != nil {
			slog.ErrorContext(ctx, "vault: revert credit after persistence failure",
				"error", revertErr, "account", account.Hex())
		}
		// The balance may already be durable from the partial persist; write the
		// reverted figures back so a restart cannot restore the aborted credit.
		if persistErr := e.persistBalances(ctx, account); persistErr != nil {
			slog.ErrorContext(ctx, "vault: re-persist balance after persistence failure",
				"error", persistErr, "account", account.Hex())
		}
		e.refund(ctx, sourceAsset, account, amount)
		return nil, err
	}
	return dep, nil
}

// Withdraw debits the caller's balance and pushes settlement asset out of
// custody. No exchange step is involved: balances are held in settlement terms.
func (e *Engine) Withdraw(ctx context.Context, account ethcommon.Address, amount *big.Int) (*Withdrawal, error) {
	if e == nil {
		return nil, fmt.Errorf("vault engine not initialised")
	}
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "vault.withdraw",
		trace.WithAttributes(attribute.String("account", account.Hex())))
	defer span.End()
	wd, err := e.runWithdraw(ctx, account, amount)
	e.finish(span, "withdraw", start, err)
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(NewWithdrawalCompletedEvent(wd.Account, wd.Amount))
	return wd, nil
}

func (e *Engine) runWithdraw(ctx context.Context, account ethcommon.Address, amountIn *big.Int) (*Withdrawal, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := e.gate.acquire(); err != nil {
		return nil, err
	}
	defer e.gate.release()
	params, settlement, _ := e.snapshot()
	if params.Paused {
		return nil, ErrPaused
	}
	amount := new(big.Int).Set(amountIn)
	if err := e.ledger.Debit(account, amount); err != nil {
		return nil, err
	}
	wd := &Withdrawal{
		ID:        uuid.NewString(),
		Account:   account,
		Amount:    amount,
		CreatedAt: e.now().UTC(),
	}
	if err := e.persistWithdrawal(ctx, account, wd); err != nil {
		if revertErr := e.ledger.Credit(account, amount); revertErr != nil {
			slog.ErrorContext(ctx, "vault: revert debit after persistence failure",
				"error", revertErr, "account", account.Hex())
		}
		return nil, err
	}
	// Custody push runs last so a transfer failure can still unwind cleanly.
	if err := e.custody.Push(ctx, settlement, account, amount); err != nil {
		if revertErr := e.ledger.Credit(account, amount); revertErr != nil {
			slog.ErrorContext(ctx, "vault: revert debit after custody failure",
				"error", revertErr, "account", account.Hex())
		}
		if persistErr := e.persistBalances(ctx, account); persistErr != nil {
			slog.ErrorContext(ctx, "vault: re-persist balance after custody failure",
				"error", persistErr, "account", account.Hex())
		}
		if e.store != nil {
			if deleteErr := e.store.DeleteWithdrawal(ctx, wd.ID); deleteErr != nil {
				slog.ErrorContext(ctx, "vault: remove journal entry after custody failure",
					"error", deleteErr, "id", wd.ID)
			}
		}
		return nil, fmt.Errorf("custody push: %w", err)
	}
	return wd, nil
}

// EstimateDeposit prices a prospective deposit without touching any state. It
// takes no entry gate and may be invoked any number of times.
func (e *Engine) EstimateDeposit(ctx context.Context, asset ethcommon.Address, amount *big.Int) (*Estimate, error) {
	if e == nil {
		return nil, fmt.Errorf("vault engine not initialised")
	}
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "vault.estimate",
		trace.WithAttributes(attribute.String("asset", asset.Hex())))
	defer span.End()
	est, err := e.runEstimate(ctx, asset, amount)
	e.finish(span, "estimate", start, err)
	return est, err
}

func (e *Engine) runEstimate(ctx context.Context, asset ethcommon.Address, amountIn *big.Int) (*Estimate, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	_, settlement, adapter := e.snapshot()
	amount := new(big.Int).Set(amountIn)
	if asset == settlement {
		return &Estimate{SourceAsset: asset, AmountIn: amount, AmountOut: new(big.Int).Set(amount)}, nil
	}
	quote, err := adapter.Quote(ctx, amount, Path{asset, settlement})
	if err != nil {
		return nil, fmt.Errorf("quote conversion: %w", err)
	}
	if quote.NoPath || quote.Amount == nil || quote.Amount.Sign() <= 0 {
		return nil, ErrNoConversionPath
	}
	return &Estimate{SourceAsset: asset, AmountIn: amount, AmountOut: new(big.Int).Set(quote.Amount)}, nil
}

// BalanceOf reports the credited settlement balance for the account.
func (e *Engine) BalanceOf(account ethcommon.Address) *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	return e.ledger.BalanceOf(account)
}

// AggregateCredited reports the total settlement value owed to depositors.
func (e *Engine) AggregateCredited() *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	return e.ledger.AggregateCredited()
}

// Status summarises engine state for the status endpoint.
func (e *Engine) Status() Status {
	if e == nil {
		return Status{AggregateWei: big.NewInt(0)}
	}
	params, _, _ := e.snapshot()
	return Status{
		Accounts:        len(e.ledger.Snapshot()),
		AggregateWei:    e.ledger.AggregateCredited(),
		CapacityCeiling: params.CapacityCeiling,
		Paused:          params.Paused,
	}
}

func (e *Engine) finish(span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, operation)
	}
	e.metrics.Observe(operation, e.now().Sub(start), err)
}

func (e *Engine) refund(ctx context.Context, asset, account ethcommon.Address, amount *big.Int) {
	if err := e.custody.Push(ctx, asset, account, amount); err != nil {
		slog.ErrorContext(ctx, "vault: refund after aborted deposit",
			"error", err, "account", account.Hex(), "asset", asset.Hex())
	}
}

func (e *Engine) persistDeposit(ctx context.Context, account ethcommon.Address, dep *Deposit) error {
	if e.store == nil {
		return nil
	}
	if err := e.persistBalances(ctx, account); err != nil {
		return err
	}
	if err := e.store.RecordDeposit(ctx, *dep); err != nil {
		return fmt.Errorf("persist deposit: %w", err)
	}
	return nil
}

func (e *Engine) persistWithdrawal(ctx context.Context, account ethcommon.Address, wd *Withdrawal) error {
	if e.store == nil {
		return nil
	}
	if err := e.persistBalances(ctx, account); err != nil {
		return err
	}
	if err := e.store.RecordWithdrawal(ctx, *wd); err != nil {
		return fmt.Errorf("persist withdrawal: %w", err)
	}
	return nil
}

func (e *Engine) persistBalances(ctx context.Context, account ethcommon.Address) error {
	if e.store == nil {
		return nil
	}
	record := BalanceRecord{
		Account:   account,
		Balance:   e.ledger.BalanceOf(account),
		UpdatedAt: e.now().UTC(),
	}
	if err := e.store.SaveBalance(ctx, record); err != nil {
		return fmt.Errorf("persist balance: %w", err)
	}
	if err := e.store.SaveAggregate(ctx, e.ledger.AggregateCredited()); err != nil {
		return fmt.Errorf("persist aggregate: %w", err)
	}
	return nil
}
