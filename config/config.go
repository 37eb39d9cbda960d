package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	DatabasePath    string          `yaml:"database"`
	PolicyPath      string          `yaml:"policy"`
	SettlementAsset string          `yaml:"settlement_asset"`
	VaultAddress    string          `yaml:"vault_address"`
	Exchange        ExchangeConfig  `yaml:"exchange"`
	Custody         CustodyConfig   `yaml:"custody"`
	Admin           AdminConfig     `yaml:"admin"`
	RateLimits      RateLimitConfig `yaml:"rate_limits"`
}

// ExchangeConfig points at the external exchange adapter service.
type ExchangeConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// CustodyConfig points at the asset custody bridge.
type CustodyConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// AdminConfig secures the administrative endpoints.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

// RateLimitConfig throttles the public mutation endpoints per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/vaultd.sqlite"
	}
	if cfg.Exchange.Timeout.Duration == 0 {
		cfg.Exchange.Timeout.Duration = 30 * time.Second
	}
	if cfg.Custody.Timeout.Duration == 0 {
		cfg.Custody.Timeout.Duration = 30 * time.Second
	}
	if cfg.RateLimits.RequestsPerMinute <= 0 {
		cfg.RateLimits.RequestsPerMinute = 60
	}
	if cfg.RateLimits.Burst <= 0 {
		cfg.RateLimits.Burst = 10
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.PolicyPath) == "" {
		return fmt.Errorf("policy file must be configured")
	}
	if !ethcommon.IsHexAddress(strings.TrimSpace(cfg.SettlementAsset)) {
		return fmt.Errorf("settlement_asset must be a hex address")
	}
	if !ethcommon.IsHexAddress(strings.TrimSpace(cfg.VaultAddress)) {
		return fmt.Errorf("vault_address must be a hex address")
	}
	if strings.TrimSpace(cfg.Exchange.Endpoint) == "" {
		return fmt.Errorf("exchange endpoint must be configured")
	}
	if strings.TrimSpace(cfg.Custody.Endpoint) == "" {
		return fmt.Errorf("custody endpoint must be configured")
	}
	return nil
}
