package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadTOMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"

[aggregator]
window = "1500ms"

[sources.pyth]
enabled = true
ttl = "7s"
feeds = { BTC = "0xe62d" }

[[venues]]
id = "gmx-arb"
name = "GMX"
kind = "gmx"
fee_bps = 5
active = true
base_url = "https://gmx.example"

[[router.slippage_buckets]]
up_to = 1000
pct = 0.1

[[router.slippage_buckets]]
up_to = 0
pct = 3
`), 0o600))

	t.Setenv("VROUTER_SERVER_PORT", "9090")
	t.Setenv("VROUTER_VENUES_0_API_SECRET", "shh")
	t.Setenv("VROUTER_NOTIFY_EVENTS", " trade_closed, ,high_value_trade ")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 1500*time.Millisecond, cfg.Aggregator.Window.Duration)
	assert.True(t, cfg.Sources.Pyth.Enabled)
	assert.Equal(t, 7*time.Second, cfg.Sources.Pyth.TTL.Duration)
	assert.Equal(t, time.Second, cfg.Sources.Pyth.Timeout.Duration, "untouched fields keep defaults")
	assert.Equal(t, "0xe62d", cfg.Sources.Pyth.Feeds["BTC"])
	require.Len(t, cfg.Venues, 1)
	assert.Equal(t, "shh", cfg.Venues[0].APISecret)
	assert.Len(t, cfg.Router.SlippageBuckets, 2)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"trade_closed", "high_value_trade"}, cfg.Notify.Events)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Cache.Backend = "memcached"
	cfg.Router.MaxLeverage = 0
	cfg.Sources.Uniswap.Enabled = true
	cfg.Venues = []VenueConfig{
		{ID: "x", Kind: "dydx", BaseURL: "https://x"},
		{ID: "x", Kind: "gmx"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "bogus"`,
		"cache.backend must be memory or redis",
		"router: max_leverage",
		"evm: rpc_url is required",
		"router_address",
		"unknown venue",
		`duplicate id "x"`,
		"venues[1]: base_url",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateRedisAddrOnlyWhenUsed(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	require.NoError(t, cfg.Validate())

	cfg.SideEffects.Backend = "redis"
	assert.ErrorContains(t, cfg.Validate(), "redis: addr")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKeys = []string{"k1"}
	cfg.Venues = []VenueConfig{{ID: "gmx", APISecret: "s", APIKey: "k"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Venues[0].APISecret)
	assert.Equal(t, []string{redacted}, out.Server.APIKeys)
	assert.Equal(t, "s", cfg.Venues[0].APISecret, "original untouched")
	assert.Equal(t, "k1", cfg.Server.APIKeys[0])
}
