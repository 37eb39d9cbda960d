package vault

import (
	"math/big"
	"testing"
)

func TestWithinCapacity(t *testing.T) {
	ceiling := big.NewInt(1000)
	if !withinCapacity(big.NewInt(900), big.NewInt(100), ceiling) {
		t.Fatalf("projected aggregate equal to ceiling must pass")
	}
	if withinCapacity(big.NewInt(900), big.NewInt(101), ceiling) {
		t.Fatalf("projected aggregate above ceiling must fail")
	}
	if !withinCapacity(big.NewInt(0), big.NewInt(1), nil) {
		t.Fatalf("nil ceiling must disable the check")
	}
	if !withinCapacity(big.NewInt(0), big.NewInt(1), big.NewInt(0)) {
		t.Fatalf("zero ceiling must disable the check")
	}
}

func TestMinimumOutput(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		bps    uint64
		want   int64
	}{
		{name: "zero tolerance identity", amount: 1_000_000, bps: 0, want: 1_000_000},
		{name: "one percent", amount: 1_000_000, bps: 100, want: 990_000},
		{name: "max tolerance", amount: 1_000_000, bps: 1000, want: 900_000},
		{name: "floor division", amount: 3, bps: 1, want: 2},
		{name: "small amount rounds down", amount: 1, bps: 100, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := minimumOutput(big.NewInt(tc.amount), tc.bps)
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("minimumOutput(%d, %d) = %s, want %d", tc.amount, tc.bps, got, tc.want)
			}
		})
	}
}

func TestMinimumOutputDoesNotMutateInput(t *testing.T) {
	amount := big.NewInt(12345)
	_ = minimumOutput(amount, 250)
	if amount.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("input amount mutated to %s", amount)
	}
}
