package vault

import "math/big"

// MaxSlippageToleranceBps is the upper bound accepted at configuration time.
const MaxSlippageToleranceBps = 1000

const bpsDenominator = 10000

// withinCapacity reports whether crediting estimatedDelta on top of aggregate
// stays at or below the ceiling. A nil or zero ceiling disables the check. The
// predicate is evaluated against the pre-swap estimate only; a favourable swing
// between quote and execution can push the true aggregate past the ceiling by
// at most the adapter's positive-slippage variance.
func withinCapacity(aggregate, estimatedDelta, ceiling *big.Int) bool {
	if ceiling == nil || ceiling.Sign() <= 0 {
		return true
	}
	projected := new(big.Int).Add(aggregate, estimatedDelta)
	return projected.Cmp(ceiling) <= 0
}

// minimumOutput converts an estimated output into the floor passed to the
// adapter: floor(amount * (10000 - bps) / 10000). A zero tolerance is the
// identity.
func minimumOutput(amount *big.Int, bps uint64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	if bps == 0 {
		return new(big.Int).Set(amount)
	}
	factor := big.NewInt(bpsDenominator - int64(bps))
	scaled := new(big.Int).Mul(amount, factor)
	return scaled.Quo(scaled, big.NewInt(bpsDenominator))
}
