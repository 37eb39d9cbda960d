package vault

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultSwapDeadline bounds how stale a quote may be when the adapter finally
// applies it.
const DefaultSwapDeadline = 10 * time.Minute

// PolicyConfig captures the operator-defined vault guardrails parsed from the
// policy file. Amounts are textual so operators can write underscores or
// scientific notation.
type PolicyConfig struct {
	CapacityCeilingWei   string `toml:"CapacityCeilingWei"`
	SlippageToleranceBps uint64 `toml:"SlippageToleranceBps"`
	SwapDeadlineSeconds  int64  `toml:"SwapDeadlineSeconds"`
	Paused               bool   `toml:"Paused"`
}

// PolicyParameters is the canonical, runtime-ready interpretation of the policy
// settings. The orchestrator reads one immutable snapshot per transaction.
type PolicyParameters struct {
	CapacityCeiling      *big.Int
	SlippageToleranceBps uint64
	SwapDeadline         time.Duration
	Paused               bool
}

// Copy returns a deep copy to shield the engine's snapshot from callers.
func (pp PolicyParameters) Copy() PolicyParameters {
	clone := pp
	if pp.CapacityCeiling != nil {
		clone.CapacityCeiling = new(big.Int).Set(pp.CapacityCeiling)
	}
	return clone
}

// Normalise trims whitespace and zeroes negative durations on a defensive copy.
func (pc PolicyConfig) Normalise() PolicyConfig {
	cfg := PolicyConfig{
		CapacityCeilingWei:   strings.TrimSpace(pc.CapacityCeilingWei),
		SlippageToleranceBps: pc.SlippageToleranceBps,
		SwapDeadlineSeconds:  pc.SwapDeadlineSeconds,
		Paused:               pc.Paused,
	}
	if cfg.SwapDeadlineSeconds < 0 {
		cfg.SwapDeadlineSeconds = 0
	}
	return cfg
}

// Parameters converts the textual configuration into runtime values. The
// slippage tolerance is validated here so the orchestrator never receives an
// out-of-range value.
func (pc PolicyConfig) Parameters() (PolicyParameters, error) {
	normalized := pc.Normalise()
	params := PolicyParameters{
		SlippageToleranceBps: normalized.SlippageToleranceBps,
		SwapDeadline:         DefaultSwapDeadline,
		Paused:               normalized.Paused,
	}
	if normalized.SlippageToleranceBps > MaxSlippageToleranceBps {
		return params, fmt.Errorf("policy: SlippageToleranceBps %d exceeds maximum %d", normalized.SlippageToleranceBps, MaxSlippageToleranceBps)
	}
	if normalized.CapacityCeilingWei != "" {
		amount, err := parseAmount(normalized.CapacityCeilingWei)
		if err != nil {
			return params, fmt.Errorf("policy: invalid CapacityCeilingWei: %w", err)
		}
		params.CapacityCeiling = amount
	}
	if normalized.SwapDeadlineSeconds > 0 {
		params.SwapDeadline = time.Duration(normalized.SwapDeadlineSeconds) * time.Second
	}
	return params, nil
}

// LoadPolicy reads and validates a policy file.
func LoadPolicy(path string) (PolicyParameters, error) {
	var cfg PolicyConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return PolicyParameters{}, fmt.Errorf("policy: decode %s: %w", path, err)
	}
	return cfg.Parameters()
}

// parseAmount interprets a textual settlement-asset amount in smallest units.
// Underscore separators and non-negative integer scientific notation are
// accepted; fractional remainders are rejected.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	normalized := trimmed
	var exponent int64
	if idx := strings.IndexAny(normalized, "eE"); idx != -1 {
		expPart := strings.TrimSpace(normalized[idx+1:])
		if expPart == "" {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		exponent = expValue
		normalized = strings.TrimSpace(normalized[:idx])
	}
	normalized = strings.TrimPrefix(normalized, "+")
	if strings.HasPrefix(normalized, "-") {
		return nil, fmt.Errorf("amount must not be negative")
	}
	parts := strings.Split(normalized, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format")
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" {
		return big.NewInt(0), nil
	}
	if !isDigits(digits) {
		return nil, fmt.Errorf("invalid amount format")
	}
	fracLen := len(fractionalPart)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	digits = strings.TrimLeft(digits, "0")
	totalExponent := exponent - int64(fracLen)
	if totalExponent < 0 {
		return nil, fmt.Errorf("amount must be an integer")
	}
	if digits == "" {
		digits = "0"
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", int(totalExponent))
	}
	amount := new(big.Int)
	if _, ok := amount.SetString(digits, 10); !ok {
		return nil, fmt.Errorf("invalid amount value")
	}
	return amount, nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
