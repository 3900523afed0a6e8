// Package config loads engine settings from a YAML file, then applies
// environment overrides. A .env file in the working directory is loaded
// first and never overrides variables already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/retry"
	"solana-position-engine/internal/solana"
)

// Config is the full engine configuration.
type Config struct {
	Solana    SolanaConfig    `yaml:"solana"`
	Storage   StorageConfig   `yaml:"storage"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	DEX       DEXConfig       `yaml:"dex"`
	Price     PriceConfig     `yaml:"price"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Decision  DecisionConfig  `yaml:"decision"`
	Execution ExecutionConfig `yaml:"execution"`
	Retry     RetryConfig     `yaml:"retry"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// SolanaConfig holds node endpoints.
type SolanaConfig struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	WSEndpoint  string `yaml:"ws_endpoint"` // optional; status polling only when empty
	Commitment  string `yaml:"commitment"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`
	Migrate       bool   `yaml:"migrate"` // apply migrations on start
}

// KeystoreConfig locates the wallet key store.
type KeystoreConfig struct {
	Path          string `yaml:"path"`
	EncryptionKey string `yaml:"encryption_key"` // hex or base64, 32 bytes; optional
}

// DEXConfig configures the swap aggregator.
type DEXConfig struct {
	BaseURL     string        `yaml:"base_url"`
	SlippageBps int           `yaml:"slippage_bps"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PriceConfig configures the price API and the SOL/USD poller.
type PriceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAge       time.Duration `yaml:"max_age"` // older cached prices read as unavailable
	Timeout      time.Duration `yaml:"timeout"`
}

// ForecastConfig configures the model endpoint.
type ForecastConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DecisionConfig holds the trading policy.
type DecisionConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Threshold    float64       `yaml:"threshold"`
	AllowedTiers []string      `yaml:"allowed_tiers"`
	TargetReturn float64       `yaml:"target_return"`
	Timeout      time.Duration `yaml:"timeout"`
	RiskWindow   int           `yaml:"risk_window"`
}

// ExecutionConfig tunes confirmation.
type ExecutionConfig struct {
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	UnknownGrace   time.Duration `yaml:"unknown_grace"`
}

// RetryConfig is the retry policy shared by every external call.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Output is stderr, stdout or a file path. Logs go to stdout by default.
	Output string `yaml:"output"`
}

// Default returns a configuration with every optional value set.
func Default() *Config {
	return &Config{
		Solana: SolanaConfig{Commitment: string(solana.CommitmentFinalized)},
		Keystore: KeystoreConfig{
			Path: "data/keystore",
		},
		DEX: DEXConfig{
			BaseURL:     "https://quote-api.jup.ag/v6",
			SlippageBps: 300,
			Timeout:     15 * time.Second,
		},
		Price: PriceConfig{
			BaseURL:      "https://api.jup.ag/price/v2",
			PollInterval: 10 * time.Second,
			MaxAge:       2 * time.Minute,
			Timeout:      10 * time.Second,
		},
		Forecast: ForecastConfig{Timeout: 5 * time.Second},
		Decision: DecisionConfig{
			Interval:     time.Second,
			Threshold:    0.6,
			AllowedTiers: []string{string(domain.RiskTierLow)},
			TargetReturn: 0.2,
			Timeout:      30 * time.Minute,
			RiskWindow:   15,
		},
		Execution: ExecutionConfig{
			ConfirmTimeout: 90 * time.Second,
			PollInterval:   2 * time.Second,
			UnknownGrace:   90 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       10 * time.Second,
			JitterFraction: 0.2,
			AttemptTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Tracing: TracingConfig{ServiceName: "solana-position-engine", Output: "stderr"},
	}
}

// Load reads path (optional), applies environment overrides, then the given
// overrides (typically command-line flags), and validates.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with set environment variables.
func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SOLANA_RPC_ENDPOINT", &c.Solana.RPCEndpoint)
	str("SOLANA_WS_ENDPOINT", &c.Solana.WSEndpoint)
	str("SOLANA_COMMITMENT", &c.Solana.Commitment)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickHouseDSN)
	boolean("USE_MEMORY", &c.Storage.UseMemory)
	boolean("MIGRATE", &c.Storage.Migrate)
	str("KEYSTORE_PATH", &c.Keystore.Path)
	str("KEYSTORE_ENCRYPTION_KEY", &c.Keystore.EncryptionKey)
	str("JUPITER_API_URL", &c.DEX.BaseURL)
	str("PRICE_API_URL", &c.Price.BaseURL)
	str("FORECAST_API_URL", &c.Forecast.BaseURL)
	duration("DECISION_INTERVAL", &c.Decision.Interval)
	float("DECISION_THRESHOLD", &c.Decision.Threshold)
	float("DECISION_TARGET_RETURN", &c.Decision.TargetReturn)
	duration("DECISION_TIMEOUT", &c.Decision.Timeout)
	if v := os.Getenv("DECISION_ALLOWED_TIERS"); v != "" {
		c.Decision.AllowedTiers = splitList(v)
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)
	str("METRICS_ADDR", &c.Metrics.Addr)
	boolean("TRACING_ENABLED", &c.Tracing.Enabled)
	str("TRACING_OUTPUT", &c.Tracing.Output)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Solana.RPCEndpoint == "" {
		errs = append(errs, errors.New("solana.rpc_endpoint is required"))
	}
	if !solana.Commitment(c.Solana.Commitment).IsValid() {
		errs = append(errs, fmt.Errorf("solana.commitment %q is not a commitment level", c.Solana.Commitment))
	}
	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "" || c.Storage.ClickHouseDSN == "") {
		errs = append(errs, errors.New("storage.postgres_dsn and storage.clickhouse_dsn are required unless use_memory is set"))
	}
	if c.Keystore.Path == "" {
		errs = append(errs, errors.New("keystore.path is required"))
	}
	if c.DEX.BaseURL == "" {
		errs = append(errs, errors.New("dex.base_url is required"))
	}
	if c.DEX.SlippageBps <= 0 || c.DEX.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("dex.slippage_bps %d out of range (0, 10000]", c.DEX.SlippageBps))
	}
	if c.Price.BaseURL == "" {
		errs = append(errs, errors.New("price.base_url is required"))
	}
	if c.Forecast.BaseURL == "" {
		errs = append(errs, errors.New("forecast.base_url is required"))
	}
	if c.Decision.Interval <= 0 {
		errs = append(errs, errors.New("decision.interval must be positive"))
	}
	if c.Decision.Threshold < 0 || c.Decision.Threshold > 1 {
		errs = append(errs, fmt.Errorf("decision.threshold %v out of range [0, 1]", c.Decision.Threshold))
	}
	if c.Decision.TargetReturn <= 0 {
		errs = append(errs, errors.New("decision.target_return must be positive"))
	}
	if c.Decision.Timeout <= 0 {
		errs = append(errs, errors.New("decision.timeout must be positive"))
	}
	if _, err := c.RiskTiers(); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// RiskTiers parses Decision.AllowedTiers.
func (c *Config) RiskTiers() ([]domain.RiskTier, error) {
	if len(c.Decision.AllowedTiers) == 0 {
		return nil, errors.New("decision.allowed_tiers is empty")
	}
	tiers := make([]domain.RiskTier, 0, len(c.Decision.AllowedTiers))
	for _, s := range c.Decision.AllowedTiers {
		t := domain.RiskTier(strings.ToLower(strings.TrimSpace(s)))
		if !t.IsValid() {
			return nil, fmt.Errorf("decision.allowed_tiers: unknown tier %q", s)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// Policy builds the retry policy.
func (r RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = r.MaxAttempts
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	if r.JitterFraction >= 0 {
		p.JitterFraction = r.JitterFraction
	}
	p.AttemptTimeout = r.AttemptTimeout
	return p
}
