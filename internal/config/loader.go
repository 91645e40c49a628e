package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "VROUTER_"

// Load decodes the TOML file at path over Defaults, reads .env if present and
// applies VROUTER_* overrides. A missing file is not an error so deployments
// can run on environment variables alone. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// postgres
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// redis
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// s3
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setStr(&cfg.EVM.RPCURL, "EVM_RPC_URL")
	setStr(&cfg.Cache.Backend, "CACHE_BACKEND")

	// sources
	setBool(&cfg.Sources.Pyth.Enabled, "SOURCES_PYTH_ENABLED")
	setStr(&cfg.Sources.Pyth.BaseURL, "SOURCES_PYTH_BASE_URL")
	setBool(&cfg.Sources.Uniswap.Enabled, "SOURCES_UNISWAP_ENABLED")
	setBool(&cfg.Sources.Chainlink.Enabled, "SOURCES_CHAINLINK_ENABLED")
	setBool(&cfg.Sources.CoinGecko.Enabled, "SOURCES_COINGECKO_ENABLED")
	setStr(&cfg.Sources.CoinGecko.BaseURL, "SOURCES_COINGECKO_BASE_URL")
	setStr(&cfg.Sources.CoinGecko.APIKey, "SOURCES_COINGECKO_API_KEY")
	setBool(&cfg.Sources.VenueNative.Enabled, "SOURCES_VENUE_NATIVE_ENABLED")
	setStr(&cfg.Sources.VenueNative.WSURL, "SOURCES_VENUE_NATIVE_WS_URL")

	setDuration(&cfg.Aggregator.Window, "AGGREGATOR_WINDOW")
	setFloat64(&cfg.Scoring.ReputationPrior, "SCORING_REPUTATION_PRIOR")
	setStr(&cfg.Scoring.DefaultKind, "SCORING_DEFAULT_KIND")

	// router
	setInt(&cfg.Router.MaxLeverage, "ROUTER_MAX_LEVERAGE")
	setFloat64(&cfg.Router.FeeRate, "ROUTER_FEE_RATE")
	setFloat64(&cfg.Router.DefaultSlippagePct, "ROUTER_DEFAULT_SLIPPAGE_PCT")
	setFloat64(&cfg.Router.ValidationThresholdUsd, "ROUTER_VALIDATION_THRESHOLD_USD")
	setFloat64(&cfg.Router.HighValueAlertUsd, "ROUTER_HIGH_VALUE_ALERT_USD")

	// side effects
	setStr(&cfg.SideEffects.Backend, "SIDE_EFFECTS_BACKEND")
	setInt(&cfg.SideEffects.MaxAttempts, "SIDE_EFFECTS_MAX_ATTEMPTS")
	setStr(&cfg.SideEffects.Consumer, "SIDE_EFFECTS_CONSUMER")
	setStr(&cfg.SideEffects.ValidationURL, "SIDE_EFFECTS_VALIDATION_URL")

	// notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// server
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "SERVER_API_KEYS")
	setFloat64(&cfg.Server.RateLimitPerSec, "SERVER_RATE_LIMIT_PER_SEC")

	// archive
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "ARCHIVE_RETENTION")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	// Venue secrets by position: VROUTER_VENUES_0_API_SECRET etc.
	for i := range cfg.Venues {
		p := fmt.Sprintf("VENUES_%d_", i)
		setStr(&cfg.Venues[i].BaseURL, p+"BASE_URL")
		setStr(&cfg.Venues[i].APIKey, p+"API_KEY")
		setStr(&cfg.Venues[i].APISecret, p+"API_SECRET")
		setStr(&cfg.Venues[i].APIPassphrase, p+"API_PASSPHRASE")
		setStr(&cfg.Venues[i].SecretPassword, p+"SECRET_PASSWORD")
	}
}

// Typed setters. Each changes dst only when the variable is set and parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
