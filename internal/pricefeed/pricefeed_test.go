package pricefeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/cache/memory"
	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
	"github.com/alanyoungcy/venuerouter/internal/platform/evm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	price decimal.Decimal
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, _ string) (decimal.Decimal, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decimal.Zero, time.Time{}, f.err
	}
	return f.price, time.Time{}, nil
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSourceCachesWithinTTL(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := &countingFetcher{price: decimal.NewFromInt(60000)}
	m := metrics.New(prometheus.NewRegistry())

	src := NewSource(SourceConfig{Name: "pyth", TTL: 5 * time.Second}, f, Deps{
		Cache:   memory.NewPriceCacheWithClock(clk.Now),
		Metrics: m,
		Logger:  testLogger(),
		Now:     clk.Now,
	})

	first, err := src.FetchPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "pyth", first.Name)
	assert.Equal(t, clk.Now(), first.ObservedAt)

	clk.Advance(4 * time.Second)
	second, err := src.FetchPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls(), "second call is served from cache")
	assert.Equal(t, int64(0), second.LatencyMs)
	assert.Equal(t, first.ObservedAt, second.ObservedAt)
	assert.True(t, first.Price.Equal(second.Price))

	clk.Advance(time.Second)
	_, err = src.FetchPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls(), "expired entry refetches")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `venuerouter_pricefeed_requests_total{outcome="cache_hit",source="pyth"} 1`)
}

func TestSourceCooldownReturnsNoData(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := &countingFetcher{price: decimal.NewFromInt(3000)}

	src := NewSource(SourceConfig{Name: "coingecko"}, f, Deps{
		Limiter: memory.NewSourceLimiter(map[string]time.Duration{"coingecko": 6 * time.Second}).WithClock(clk.Now),
		Logger:  testLogger(),
		Now:     clk.Now,
	})

	_, err := src.FetchPrice(context.Background(), "ETH")
	require.NoError(t, err)

	_, err = src.FetchPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, domain.ErrNoData)
	assert.Equal(t, 1, f.Calls())

	clk.Advance(6 * time.Second)
	_, err = src.FetchPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Calls())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestSourceLimiterFailsOpen(t *testing.T) {
	f := &countingFetcher{price: decimal.NewFromInt(1)}
	src := NewSource(SourceConfig{Name: "x"}, f, Deps{Limiter: failingLimiter{}, Logger: testLogger()})

	_, err := src.FetchPrice(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls())
}

func TestSourceRejectsNonPositivePrice(t *testing.T) {
	f := &countingFetcher{price: decimal.Zero}
	src := NewSource(SourceConfig{Name: "x", TTL: time.Minute}, f, Deps{
		Cache:  memory.NewPriceCache(),
		Logger: testLogger(),
	})

	_, err := src.FetchPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrNoData)

	_, err = src.FetchPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrNoData)
	assert.Equal(t, 2, f.Calls(), "invalid prices are never cached")
}

func TestSourceBreakerOpensAfterFailures(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection refused")}
	src := NewSource(SourceConfig{
		Name:            "chainlink",
		BreakerFailures: 3,
		BreakerCooldown: time.Hour,
	}, f, Deps{Logger: testLogger()})

	for i := 0; i < 3; i++ {
		_, err := src.FetchPrice(context.Background(), "BTC")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrSourceUnavailable)
	}

	_, err := src.FetchPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, 3, f.Calls(), "open breaker short-circuits the upstream")
}

func TestSourceNoDataDoesNotTripBreaker(t *testing.T) {
	f := &countingFetcher{err: domain.ErrNoData}
	src := NewSource(SourceConfig{Name: "pyth", BreakerFailures: 1, BreakerCooldown: time.Hour}, f, Deps{Logger: testLogger()})

	for i := 0; i < 5; i++ {
		_, err := src.FetchPrice(context.Background(), "DOGE")
		assert.ErrorIs(t, err, domain.ErrNoData)
	}
	assert.Equal(t, 5, f.Calls())
}

func TestSourceTimeout(t *testing.T) {
	slow := FetcherFunc(func(ctx context.Context, _ string) (decimal.Decimal, time.Time, error) {
		<-ctx.Done()
		return decimal.Zero, time.Time{}, ctx.Err()
	})
	src := NewSource(SourceConfig{Name: "slow", Timeout: 20 * time.Millisecond}, slow, Deps{Logger: testLogger()})

	_, err := src.FetchPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// --- fetchers ---

type fakeOracle struct{ gotID string }

func (o *fakeOracle) LatestPrice(_ context.Context, id string) (decimal.Decimal, time.Time, error) {
	o.gotID = id
	return decimal.NewFromInt(60000), time.Unix(1700000000, 0), nil
}

func TestOracleFetcherMapsSymbol(t *testing.T) {
	o := &fakeOracle{}
	f := &OracleFetcher{Client: o, Feeds: map[string]string{"BTC": "0xfeed"}}

	price, _, err := f.Fetch(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", o.gotID)
	assert.Equal(t, "60000", price.String())

	_, _, err = f.Fetch(context.Background(), "DOGE")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

type fakeRouter struct{ base, quote evm.Token }

func (r *fakeRouter) SpotPrice(_ context.Context, base, quote evm.Token) (decimal.Decimal, error) {
	r.base, r.quote = base, quote
	return decimal.RequireFromString("3012.5"), nil
}

func TestRouterFetcher(t *testing.T) {
	weth := evm.Token{Address: common.HexToAddress("0x01"), Decimals: 18}
	usdc := evm.Token{Address: common.HexToAddress("0x02"), Decimals: 6}
	r := &fakeRouter{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &RouterFetcher{Router: r, Tokens: map[string]evm.Token{"ETH": weth}, Quote: usdc, Now: func() time.Time { return now }}

	price, at, err := f.Fetch(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, "3012.5", price.String())
	assert.Equal(t, now, at)
	assert.Equal(t, weth, r.base)
	assert.Equal(t, usdc, r.quote)
}

type fakeFeed struct{ updatedAt time.Time }

func (f fakeFeed) LatestAnswer(context.Context, common.Address) (decimal.Decimal, time.Time, error) {
	return decimal.NewFromInt(60000), f.updatedAt, nil
}

func TestFeedContractFetcherStaleness(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	feeds := map[string]common.Address{"BTC": common.HexToAddress("0x03")}

	fresh := &FeedContractFetcher{
		Contract: fakeFeed{updatedAt: now.Add(-time.Minute)}, Feeds: feeds,
		MaxStaleness: time.Hour, Now: func() time.Time { return now },
	}
	_, _, err := fresh.Fetch(context.Background(), "BTC")
	require.NoError(t, err)

	stale := &FeedContractFetcher{
		Contract: fakeFeed{updatedAt: now.Add(-2 * time.Hour)}, Feeds: feeds,
		MaxStaleness: time.Hour, Now: func() time.Time { return now },
	}
	_, _, err = stale.Fetch(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

type fakeAggregatorAPI struct{ id, vs string }

func (a *fakeAggregatorAPI) SimplePrice(_ context.Context, id, vs string) (decimal.Decimal, error) {
	a.id, a.vs = id, vs
	return decimal.NewFromInt(150), nil
}

func TestAggregatorAPIFetcher(t *testing.T) {
	api := &fakeAggregatorAPI{}
	f := &AggregatorAPIFetcher{Client: api, IDs: map[string]string{"SOL": "solana"}}

	price, _, err := f.Fetch(context.Background(), "SOL")
	require.NoError(t, err)
	assert.Equal(t, "150", price.String())
	assert.Equal(t, "solana", api.id)
	assert.Equal(t, "usd", api.vs)
}

type fakeMark struct{ pair string }

func (m *fakeMark) MarkPrice(_ context.Context, pair string) (decimal.Decimal, time.Time, error) {
	m.pair = pair
	return decimal.NewFromInt(59990), time.Unix(1700000000, 0), nil
}

type fakeTicks struct{ ok bool }

func (t fakeTicks) Latest(string, time.Duration, time.Time) (decimal.Decimal, time.Time, bool) {
	if !t.ok {
		return decimal.Zero, time.Time{}, false
	}
	return decimal.NewFromInt(60005), time.Unix(1700000001, 0), true
}

func TestVenueFetcherPrefersFreshTick(t *testing.T) {
	mark := &fakeMark{}

	f := &VenueFetcher{Client: mark, Ticker: fakeTicks{ok: true}, MaxTick: 5 * time.Second}
	price, _, err := f.Fetch(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "60005", price.String())
	assert.Empty(t, mark.pair, "REST not used when the tick is fresh")

	f.Ticker = fakeTicks{ok: false}
	price, _, err = f.Fetch(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "59990", price.String())
	assert.Equal(t, "BTC-USD", mark.pair)
}
