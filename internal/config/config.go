// Package config loads the settings of the portfolio binaries.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// a .env file in the working directory, process environment. Command flags
// are applied last by each binary.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"xstock-portfolio/internal/executor"
	"xstock-portfolio/internal/jupiter"
	"xstock-portfolio/internal/orchestrator"
	"xstock-portfolio/internal/pricing"
	"xstock-portfolio/internal/rebalance"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDemo     = "demo"
)

// Config holds all application configuration.
type Config struct {
	Solana    SolanaConfig    `yaml:"solana"`
	Jupiter   JupiterConfig   `yaml:"jupiter"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Execution ExecutionConfig `yaml:"execution"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
	Valuation ValuationConfig `yaml:"valuation"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`

	// AssetsFile overrides the embedded asset universe.
	AssetsFile string `yaml:"assets_file"`
	// Keypairs are Solana CLI keypair files of wallets the server may sign for.
	Keypairs []string `yaml:"keypairs"`
}

// SolanaConfig holds ledger endpoints.
type SolanaConfig struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	WSEndpoint  string `yaml:"ws_endpoint"`
	// RPCRequestsPerSec caps calls to RPCEndpoint. Zero means unlimited.
	RPCRequestsPerSec float64 `yaml:"rpc_requests_per_sec"`
}

// JupiterConfig holds aggregator and price service settings.
type JupiterConfig struct {
	SwapURL  string        `yaml:"swap_url"`
	PriceURL string        `yaml:"price_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Kind          string `yaml:"kind"` // memory, postgres or demo
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

// RedisConfig holds the price cache connection. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// PricingConfig holds price gateway settings.
type PricingConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// ExecutionConfig holds swap execution policy.
type ExecutionConfig struct {
	SwapDelay          time.Duration `yaml:"swap_delay"` // zero selects the orchestrator default
	MaxPriceImpactPct  float64       `yaml:"max_price_impact_pct"`
	EnforcePriceImpact bool          `yaml:"enforce_price_impact"`
	SlippageBps        int           `yaml:"slippage_bps"`
	MaxSubmitAttempts  int           `yaml:"max_submit_attempts"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"`
	// WSConfirm confirms through signatureSubscribe instead of status polling.
	WSConfirm bool `yaml:"ws_confirm"`
}

// RebalanceConfig holds drift and scheduling policy.
type RebalanceConfig struct {
	Enabled              bool          `yaml:"enabled"`
	DriftThreshold       float64       `yaml:"drift_threshold"`
	MinInterval          time.Duration `yaml:"min_interval"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	Workers              int           `yaml:"workers"`
	CountPartialAttempts bool          `yaml:"count_partial_attempts"`
}

// ValuationConfig holds portfolio valuation settings.
type ValuationConfig struct {
	// RefreshBalances reads position amounts from the ledger before pricing.
	// Ignored in demo mode.
	RefreshBalances bool `yaml:"refresh_balances"`
}

// HTTPConfig holds the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Jupiter: JupiterConfig{
			SwapURL:  jupiter.DefaultSwapURL,
			PriceURL: jupiter.DefaultPriceURL,
			Timeout:  jupiter.DefaultTimeout,
		},
		Store: StoreConfig{Kind: StoreMemory},
		Redis: RedisConfig{CacheTTL: pricing.DefaultCacheTTL},
		Pricing: PricingConfig{
			BatchSize:      pricing.DefaultBatchSize,
			RequestsPerSec: pricing.DefaultRequestsPerSec,
		},
		Execution: ExecutionConfig{
			SwapDelay:         orchestrator.DefaultSwapDelay,
			MaxPriceImpactPct: executor.DefaultMaxPriceImpactPct,
			SlippageBps:       executor.DefaultSlippageBps,
			MaxSubmitAttempts: executor.DefaultMaxSubmitAttempts,
			ConfirmTimeout:    executor.DefaultConfirmTimeout,
		},
		Rebalance: RebalanceConfig{
			Enabled:              true,
			DriftThreshold:       rebalance.DefaultThreshold,
			MinInterval:          rebalance.DefaultMinInterval,
			CheckInterval:        rebalance.DefaultCheckInterval,
			Workers:              rebalance.DefaultWorkers,
			CountPartialAttempts: true,
		},
		Valuation: ValuationConfig{RefreshBalances: true},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load resolves the configuration. path may be empty.
func Load(path string) (*Config, error) {
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

	// .env is optional; existing environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	e := &envReader{}

	e.str("SOLANA_RPC_ENDPOINT", &c.Solana.RPCEndpoint)
	e.str("SOLANA_WS_ENDPOINT", &c.Solana.WSEndpoint)
	e.float("SOLANA_RPC_REQUESTS_PER_SEC", &c.Solana.RPCRequestsPerSec)

	e.str("JUPITER_SWAP_URL", &c.Jupiter.SwapURL)
	e.str("JUPITER_PRICE_URL", &c.Jupiter.PriceURL)
	e.str("JUPITER_API_KEY", &c.Jupiter.APIKey)
	e.duration("JUPITER_TIMEOUT", &c.Jupiter.Timeout)

	e.str("STORE", &c.Store.Kind)
	e.str("POSTGRES_DSN", &c.Store.PostgresDSN)
	e.str("CLICKHOUSE_DSN", &c.Store.ClickhouseDSN)

	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("REDIS_PASSWORD", &c.Redis.Password)
	e.integer("REDIS_DB", &c.Redis.DB)
	e.duration("PRICE_CACHE_TTL", &c.Redis.CacheTTL)

	e.integer("PRICE_BATCH_SIZE", &c.Pricing.BatchSize)
	e.float("PRICE_REQUESTS_PER_SEC", &c.Pricing.RequestsPerSec)

	e.duration("SWAP_DELAY", &c.Execution.SwapDelay)
	e.float("MAX_PRICE_IMPACT_PCT", &c.Execution.MaxPriceImpactPct)
	e.boolean("ENFORCE_PRICE_IMPACT", &c.Execution.EnforcePriceImpact)
	e.integer("SLIPPAGE_BPS", &c.Execution.SlippageBps)
	e.integer("MAX_SUBMIT_ATTEMPTS", &c.Execution.MaxSubmitAttempts)
	e.duration("CONFIRM_TIMEOUT", &c.Execution.ConfirmTimeout)
	e.boolean("WS_CONFIRM", &c.Execution.WSConfirm)

	e.boolean("REBALANCE_ENABLED", &c.Rebalance.Enabled)
	e.float("DRIFT_THRESHOLD", &c.Rebalance.DriftThreshold)
	e.duration("REBALANCE_MIN_INTERVAL", &c.Rebalance.MinInterval)
	e.duration("REBALANCE_CHECK_INTERVAL", &c.Rebalance.CheckInterval)
	e.integer("REBALANCE_WORKERS", &c.Rebalance.Workers)
	e.boolean("COUNT_PARTIAL_ATTEMPTS", &c.Rebalance.CountPartialAttempts)

	e.boolean("REFRESH_BALANCES", &c.Valuation.RefreshBalances)

	e.str("HTTP_ADDR", &c.HTTP.Addr)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	e.str("ASSETS_FILE", &c.AssetsFile)
	if v := os.Getenv("KEYPAIRS"); v != "" {
		c.Keypairs = SplitList(v)
	}

	return errors.Join(e.errs...)
}

// Validate checks the configuration for values the binaries cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Kind {
	case StoreMemory, StoreDemo:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store postgres requires POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (memory, postgres, demo)", c.Store.Kind))
	}
	if c.Store.Kind != StoreDemo && c.Solana.RPCEndpoint == "" {
		errs = append(errs, errors.New("SOLANA_RPC_ENDPOINT is required outside demo mode"))
	}
	if c.Solana.RPCRequestsPerSec < 0 {
		errs = append(errs, fmt.Errorf("rpc rate must not be negative, got %v", c.Solana.RPCRequestsPerSec))
	}

	if c.Pricing.BatchSize < 1 || c.Pricing.BatchSize > pricing.DefaultBatchSize {
		errs = append(errs, fmt.Errorf("price batch size must be in [1,%d], got %d", pricing.DefaultBatchSize, c.Pricing.BatchSize))
	}
	if c.Execution.SlippageBps < 1 || c.Execution.SlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("slippage must be in [1,10000] bps, got %d", c.Execution.SlippageBps))
	}
	if c.Execution.MaxSubmitAttempts < 1 {
		errs = append(errs, fmt.Errorf("max submit attempts must be positive, got %d", c.Execution.MaxSubmitAttempts))
	}
	if c.Execution.MaxPriceImpactPct <= 0 {
		errs = append(errs, fmt.Errorf("price impact ceiling must be positive, got %v", c.Execution.MaxPriceImpactPct))
	}
	if c.Execution.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("confirm timeout must be positive"))
	}
	if c.Execution.SwapDelay < 0 {
		errs = append(errs, errors.New("swap delay must not be negative"))
	}
	if c.Rebalance.DriftThreshold <= 0 {
		errs = append(errs, fmt.Errorf("drift threshold must be positive, got %v", c.Rebalance.DriftThreshold))
	}
	if c.Rebalance.Workers < 1 {
		errs = append(errs, fmt.Errorf("rebalance workers must be positive, got %d", c.Rebalance.Workers))
	}
	if c.Rebalance.CheckInterval <= 0 {
		errs = append(errs, errors.New("rebalance check interval must be positive"))
	}

	return errors.Join(errs...)
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader applies set environment variables and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
