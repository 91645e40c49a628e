// Package config defines the venue router configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by VROUTER_* environment variables.
type Config struct {
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	EVM         EVMConfig         `toml:"evm"`
	Cache       CacheConfig       `toml:"cache"`
	Sources     SourcesConfig     `toml:"sources"`
	Aggregator  AggregatorConfig  `toml:"aggregator"`
	Scoring     ScoringConfig     `toml:"scoring"`
	Router      RouterConfig      `toml:"router"`
	Venues      []VenueConfig     `toml:"venues"`
	SideEffects SideEffectsConfig `toml:"side_effects"`
	Notify      NotifyConfig      `toml:"notify"`
	Server      ServerConfig      `toml:"server"`
	Archive     ArchiveConfig     `toml:"archive"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EVMConfig points at the chain the on-chain sources read.
type EVMConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// CacheConfig selects where the price cache and source limiter live:
// "memory" (per process) or "redis" (shared).
type CacheConfig struct {
	Backend string `toml:"backend"`
}

// SourceCommon is shared by every price source.
type SourceCommon struct {
	Enabled         bool     `toml:"enabled"`
	TTL             duration `toml:"ttl"`
	Timeout         duration `toml:"timeout"`
	Cooldown        duration `toml:"cooldown"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// SourcesConfig configures the five price sources.
type SourcesConfig struct {
	Pyth        PythConfig        `toml:"pyth"`
	Uniswap     UniswapConfig     `toml:"uniswap"`
	Chainlink   ChainlinkConfig   `toml:"chainlink"`
	CoinGecko   CoinGeckoConfig   `toml:"coingecko"`
	VenueNative VenueNativeConfig `toml:"venue_native"`
}

// PythConfig maps symbols to Pyth price feed ids.
type PythConfig struct {
	SourceCommon
	BaseURL string            `toml:"base_url"`
	Feeds   map[string]string `toml:"feeds"`
}

// TokenConfig is an ERC-20 token.
type TokenConfig struct {
	Address  string `toml:"address"`
	Decimals uint8  `toml:"decimals"`
}

// UniswapConfig prices symbols through a V2 router.
type UniswapConfig struct {
	SourceCommon
	RouterAddress string                 `toml:"router_address"`
	Quote         TokenConfig            `toml:"quote"`
	Tokens        map[string]TokenConfig `toml:"tokens"`
}

// ChainlinkConfig maps symbols to aggregator contracts.
type ChainlinkConfig struct {
	SourceCommon
	Feeds        map[string]string `toml:"feeds"`
	MaxStaleness duration          `toml:"max_staleness"`
}

// CoinGeckoConfig maps symbols to CoinGecko coin ids.
type CoinGeckoConfig struct {
	SourceCommon
	BaseURL    string            `toml:"base_url"`
	APIKey     string            `toml:"api_key"`
	IDs        map[string]string `toml:"ids"`
	VsCurrency string            `toml:"vs_currency"`
}

// VenueNativeConfig reads prices from one configured venue's gateway.
type VenueNativeConfig struct {
	SourceCommon
	Venue      string   `toml:"venue"`
	WSURL      string   `toml:"ws_url"`
	Pairs      []string `toml:"pairs"`
	Quote      string   `toml:"quote"`
	MaxTickAge duration `toml:"max_tick_age"`
}

// AggregatorConfig bounds the price fan-out.
type AggregatorConfig struct {
	Window duration `toml:"window"`
}

// ScoringConfig tunes venue scoring.
type ScoringConfig struct {
	ReputationPrior  float64            `toml:"reputation_prior"`
	DefaultKind      string             `toml:"default_kind"`
	DefaultLiquidity float64            `toml:"default_liquidity"`
	Liquidity        map[string]float64 `toml:"liquidity"`
	LatencyAlpha     float64            `toml:"latency_alpha"`
}

// SlippageBucketConfig applies Pct to sizes below UpTo USD. UpTo 0 is the
// catch-all.
type SlippageBucketConfig struct {
	UpTo float64 `toml:"up_to"`
	Pct  float64 `toml:"pct"`
}

// RouterConfig holds trade economics and limits.
type RouterConfig struct {
	MaxLeverage            int                    `toml:"max_leverage"`
	MaintenanceMargin      float64                `toml:"maintenance_margin"`
	FeeRate                float64                `toml:"fee_rate"`
	DefaultSlippagePct     float64                `toml:"default_slippage_pct"`
	SlippageBuckets        []SlippageBucketConfig `toml:"slippage_buckets"`
	ValidationThresholdUsd float64                `toml:"validation_threshold_usd"`
	HighValueAlertUsd      float64                `toml:"high_value_alert_usd"`
	CloseLockTTL           duration               `toml:"close_lock_ttl"`
	PublishTimeout         duration               `toml:"publish_timeout"`
}

// VenueConfig registers one execution venue and its gateway.
type VenueConfig struct {
	ID      string   `toml:"id"`
	Name    string   `toml:"name"`
	Kind    string   `toml:"kind"`
	FeeBps  int      `toml:"fee_bps"`
	Active  bool     `toml:"active"`
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`

	APIKey        string `toml:"api_key"`
	APIPassphrase string `toml:"api_passphrase"`
	// The API secret is given raw or as a sealed file opened with
	// SecretPassword.
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// SideEffectsConfig configures the post-trade task queue and worker.
type SideEffectsConfig struct {
	Backend           string   `toml:"backend"` // "memory" or "redis"
	QueueSize         int      `toml:"queue_size"`
	MaxAttempts       int      `toml:"max_attempts"`
	BaseBackoff       duration `toml:"base_backoff"`
	MaxBackoff        duration `toml:"max_backoff"`
	Consumer          string   `toml:"consumer"`
	ValidationURL     string   `toml:"validation_url"`
	ValidationTimeout duration `toml:"validation_timeout"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKeys         []string `toml:"api_keys"`
	RateLimitPerSec float64  `toml:"rate_limit_per_sec"`
	RateLimitBurst  int      `toml:"rate_limit_burst"`
}

// ArchiveConfig schedules closed-trade archival.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
	BatchSize int      `toml:"batch_size"`
}

// duration lets the TOML decoder read strings like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with every field set to a usable value.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "venuerouter",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "venuerouter-archive",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Cache: CacheConfig{Backend: "memory"},
		Sources: SourcesConfig{
			Pyth: PythConfig{
				SourceCommon: defaultSource(5*time.Second, time.Second),
				BaseURL:      "https://hermes.pyth.network",
				Feeds:        map[string]string{},
			},
			Uniswap: UniswapConfig{
				SourceCommon: defaultSource(10*time.Second, 2*time.Second),
				Tokens:       map[string]TokenConfig{},
			},
			Chainlink: ChainlinkConfig{
				SourceCommon: defaultSource(10*time.Second, 2*time.Second),
				Feeds:        map[string]string{},
				MaxStaleness: duration{time.Hour},
			},
			CoinGecko: CoinGeckoConfig{
				SourceCommon: withCooldown(defaultSource(time.Minute, 6*time.Second), 6*time.Second),
				BaseURL:      "https://api.coingecko.com/api/v3",
				IDs:          map[string]string{},
				VsCurrency:   "usd",
			},
			VenueNative: VenueNativeConfig{
				SourceCommon: defaultSource(2*time.Second, 500*time.Millisecond),
				Quote:        "USD",
				MaxTickAge:   duration{5 * time.Second},
			},
		},
		Aggregator: AggregatorConfig{Window: duration{3 * time.Second}},
		Scoring: ScoringConfig{
			ReputationPrior:  0.8,
			DefaultKind:      string(domain.VenueMoonlander),
			DefaultLiquidity: 50,
			Liquidity:        map[string]float64{},
			LatencyAlpha:     0.2,
		},
		Router: RouterConfig{
			MaxLeverage:        100,
			MaintenanceMargin:  0.1,
			FeeRate:            0.001,
			DefaultSlippagePct: 1.0,
			SlippageBuckets: []SlippageBucketConfig{
				{UpTo: 10_000, Pct: 0.2},
				{UpTo: 50_000, Pct: 0.5},
				{UpTo: 250_000, Pct: 1.0},
				{UpTo: 0, Pct: 2.0},
			},
			ValidationThresholdUsd: 10_000,
			HighValueAlertUsd:      100_000,
			CloseLockTTL:           duration{30 * time.Second},
			PublishTimeout:         duration{2 * time.Second},
		},
		SideEffects: SideEffectsConfig{
			Backend:           "memory",
			QueueSize:         1024,
			MaxAttempts:       3,
			BaseBackoff:       duration{200 * time.Millisecond},
			MaxBackoff:        duration{5 * time.Second},
			Consumer:          "worker-1",
			ValidationTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"reconciliation_gap", "high_value_trade"},
		},
		Server: ServerConfig{
			Port:            8080,
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			Retention: duration{30 * 24 * time.Hour},
			BatchSize: 500,
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

func defaultSource(ttl, timeout time.Duration) SourceCommon {
	return SourceCommon{
		Enabled:         false,
		TTL:             duration{ttl},
		Timeout:         duration{timeout},
		Cooldown:        duration{ttl / 5},
		BreakerFailures: 5,
		BreakerCooldown: duration{30 * time.Second},
	}
}

func withCooldown(c SourceCommon, d time.Duration) SourceCommon {
	c.Cooldown = duration{d}
	return c
}

var validModes = map[string]bool{
	"server":   true,
	"worker":   true,
	"archiver": true,
	"all":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsRedis reports whether the configuration uses Redis anywhere.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Backend == "redis" || c.SideEffects.Backend == "redis"
}

// Validate reports every problem found in one error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, worker, archiver, all)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		add("postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must not exceed pool_max_conns")
	}

	for _, b := range []struct{ name, val string }{
		{"cache.backend", c.Cache.Backend},
		{"side_effects.backend", c.SideEffects.Backend},
	} {
		if b.val != "memory" && b.val != "redis" {
			add("%s must be memory or redis, got %q", b.name, b.val)
		}
	}
	if c.NeedsRedis() && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}

	c.validateSources(add)

	if _, err := domain.ParseVenueKind(c.Scoring.DefaultKind); err != nil {
		add("scoring: default_kind: %v", err)
	}
	if c.Scoring.ReputationPrior < 0 || c.Scoring.ReputationPrior > 1 {
		add("scoring: reputation_prior must be in [0,1]")
	}

	if c.Router.MaxLeverage < 1 {
		add("router: max_leverage must be >= 1")
	}
	if c.Router.MaintenanceMargin < 0 || c.Router.MaintenanceMargin >= 1 {
		add("router: maintenance_margin must be in [0,1)")
	}
	if c.Router.FeeRate < 0 {
		add("router: fee_rate must be >= 0")
	}
	for i, b := range c.Router.SlippageBuckets {
		if b.Pct < 0 || b.Pct > 100 {
			add("router: slippage_buckets[%d].pct must be in [0,100]", i)
		}
		if i > 0 && b.UpTo != 0 && b.UpTo <= c.Router.SlippageBuckets[i-1].UpTo {
			add("router: slippage_buckets must be ordered by up_to")
		}
	}

	seen := map[string]bool{}
	for i, v := range c.Venues {
		if v.ID == "" {
			add("venues[%d]: id must not be empty", i)
		}
		if seen[v.ID] {
			add("venues[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
		if _, err := domain.ParseVenueKind(v.Kind); err != nil {
			add("venues[%d]: %v", i, err)
		}
		if v.BaseURL == "" {
			add("venues[%d]: base_url must not be empty", i)
		}
		if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
			add("venues[%d]: secret_password is required with encrypted_secret_path", i)
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be positive")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateSources(add func(string, ...any)) {
	s := c.Sources
	needsRPC := s.Uniswap.Enabled || s.Chainlink.Enabled
	if needsRPC && c.EVM.RPCURL == "" {
		add("evm: rpc_url is required when uniswap or chainlink is enabled")
	}
	if s.Uniswap.Enabled {
		if !common.IsHexAddress(s.Uniswap.RouterAddress) {
			add("sources.uniswap: router_address %q is not an address", s.Uniswap.RouterAddress)
		}
		if !common.IsHexAddress(s.Uniswap.Quote.Address) {
			add("sources.uniswap: quote.address %q is not an address", s.Uniswap.Quote.Address)
		}
		for sym, t := range s.Uniswap.Tokens {
			if !common.IsHexAddress(t.Address) {
				add("sources.uniswap: tokens.%s address %q is not an address", sym, t.Address)
			}
		}
	}
	if s.Chainlink.Enabled {
		for sym, addr := range s.Chainlink.Feeds {
			if !common.IsHexAddress(addr) {
				add("sources.chainlink: feeds.%s %q is not an address", sym, addr)
			}
		}
	}
	if s.Pyth.Enabled && s.Pyth.BaseURL == "" {
		add("sources.pyth: base_url must not be empty")
	}
	if s.CoinGecko.Enabled && s.CoinGecko.BaseURL == "" {
		add("sources.coingecko: base_url must not be empty")
	}
	if s.VenueNative.Enabled {
		found := false
		for _, v := range c.Venues {
			found = found || v.ID == s.VenueNative.Venue
		}
		if !found {
			add("sources.venue_native: venue %q is not configured", s.VenueNative.Venue)
		}
	}
}
