package vault

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPolicyParameters(t *testing.T) {
	cfg := PolicyConfig{
		CapacityCeilingWei:   "2_000_000e3",
		SlippageToleranceBps: 150,
		SwapDeadlineSeconds:  120,
		Paused:               true,
	}
	params, err := cfg.Parameters()
	if err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if params.CapacityCeiling.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("expected ceiling 2000000000, got %s", params.CapacityCeiling)
	}
	if params.SlippageToleranceBps != 150 {
		t.Fatalf("expected 150 bps, got %d", params.SlippageToleranceBps)
	}
	if params.SwapDeadline != 2*time.Minute {
		t.Fatalf("expected 2m deadline, got %s", params.SwapDeadline)
	}
	if !params.Paused {
		t.Fatalf("expected paused policy")
	}
}

func TestPolicyParametersDefaults(t *testing.T) {
	params, err := PolicyConfig{}.Parameters()
	if err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if params.CapacityCeiling != nil {
		t.Fatalf("expected unlimited ceiling, got %s", params.CapacityCeiling)
	}
	if params.SwapDeadline != DefaultSwapDeadline {
		t.Fatalf("expected default deadline, got %s", params.SwapDeadline)
	}
}

func TestPolicyParametersRejectsExcessSlippage(t *testing.T) {
	if _, err := (PolicyConfig{SlippageToleranceBps: 1001}).Parameters(); err == nil {
		t.Fatalf("expected error for slippage above %d bps", MaxSlippageToleranceBps)
	}
}

func TestPolicyParametersCopyIsolation(t *testing.T) {
	params := PolicyParameters{CapacityCeiling: big.NewInt(100)}
	clone := params.Copy()
	clone.CapacityCeiling.SetInt64(999)
	if params.CapacityCeiling.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("copy aliases ceiling, got %s", params.CapacityCeiling)
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	contents := "CapacityCeilingWei = \"1_000_000\"\nSlippageToleranceBps = 50\nSwapDeadlineSeconds = 300\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	params, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if params.CapacityCeiling.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected ceiling 1000000, got %s", params.CapacityCeiling)
	}
	if params.SwapDeadline != 5*time.Minute {
		t.Fatalf("expected 5m deadline, got %s", params.SwapDeadline)
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "1000", want: "1000"},
		{input: "1_000_000", want: "1000000"},
		{input: "2.5e3", want: "2500"},
		{input: "1e18", want: "1000000000000000000"},
		{input: "", want: "0"},
		{input: "-5", wantErr: true},
		{input: "1.5", wantErr: true},
		{input: "abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseAmount(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", tc.input, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parseAmount(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}
