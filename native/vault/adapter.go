package vault

import (
	"context"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Path is the ordered hop sequence handed to the exchange adapter. The first
// element is the source asset, the last the settlement asset.
type Path []ethcommon.Address

// Copy returns a defensive copy so callers cannot mutate a shared path.
func (p Path) Copy() Path {
	if len(p) == 0 {
		return Path{}
	}
	return append(Path{}, p...)
}

// QuoteResult distinguishes a priced conversion from an unroutable pair.
// Adapters signal "no viable path" through NoPath rather than an error so the
// orchestrator can propagate the condition explicitly.
type QuoteResult struct {
	Amount *big.Int
	NoPath bool
}

// ExchangeAdapter is the external price-quoting and order-execution service the
// vault converts through. Implementations are untrusted and may attempt to call
// back into the vault while Execute is in flight; the orchestrator's entry gate
// is the only defence against that.
type ExchangeAdapter interface {
	// Quote returns the estimated output for amountIn along path.
	Quote(ctx context.Context, amountIn *big.Int, path Path) (QuoteResult, error)
	// Execute performs the conversion, enforcing minOut and the absolute
	// deadline, and returns the actual output credited to recipient.
	Execute(ctx context.Context, amountIn, minOut *big.Int, path Path, recipient ethcommon.Address, deadline time.Time) (*big.Int, error)
	// NativeWrapperAsset reports the wrapped representation of the native
	// asset used when pricing native deposits.
	NativeWrapperAsset(ctx context.Context) (ethcommon.Address, error)
}

// Custody moves assets between the caller and the vault. Implementations must
// report failure through the returned error; a silent no-op is never a valid
// completion.
type Custody interface {
	// Pull transfers amount of asset from the holder into vault custody.
	Pull(ctx context.Context, asset, from ethcommon.Address, amount *big.Int) error
	// Push transfers amount of asset out of vault custody to the recipient.
	Push(ctx context.Context, asset, to ethcommon.Address, amount *big.Int) error
}
