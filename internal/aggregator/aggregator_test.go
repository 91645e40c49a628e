package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
)

type stubSource struct {
	name    string
	price   string
	latency int64
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchPrice(ctx context.Context, _ string) (domain.PriceSource, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.PriceSource{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.PriceSource{}, s.err
	}
	return domain.PriceSource{
		Name:      s.name,
		Price:     decimal.RequireFromString(s.price),
		LatencyMs: s.latency,
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAgg(window time.Duration, sources ...*stubSource) *Aggregator {
	adapters := make([]domain.PriceSourceAdapter, len(sources))
	for i, s := range sources {
		adapters[i] = s
	}
	return New(adapters, window, metrics.New(prometheus.NewRegistry()), testLogger())
}

func TestBestPriceIsMaximum(t *testing.T) {
	agg := newAgg(time.Second,
		&stubSource{name: "pyth", price: "60000"},
		&stubSource{name: "chainlink", price: "60050"},
		&stubSource{name: "coingecko", price: "59980"},
	)

	got := agg.GetAggregatedPrice(context.Background(), "btc")
	assert.Equal(t, "BTC", got.Symbol)
	assert.Equal(t, "60050", got.BestPrice.String())
	assert.Equal(t, "chainlink", got.BestSourceName)
	require.Len(t, got.Sources, 3)
	assert.Equal(t, []string{"chainlink", "pyth", "coingecko"},
		[]string{got.Sources[0].Name, got.Sources[1].Name, got.Sources[2].Name})
	assert.True(t, got.HasPrice())
}

func TestFailuresAndZeroPricesAreDropped(t *testing.T) {
	agg := newAgg(time.Second,
		&stubSource{name: "pyth", err: errors.New("boom")},
		&stubSource{name: "uniswap", price: "0"},
		&stubSource{name: "gmx", price: "60010"},
	)

	got := agg.GetAggregatedPrice(context.Background(), "BTC")
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "gmx", got.BestSourceName)
	assert.Equal(t, "60010", got.BestPrice.String())
}

func TestNoSourcesYieldsSentinel(t *testing.T) {
	agg := newAgg(time.Second,
		&stubSource{name: "pyth", err: domain.ErrNoData},
		&stubSource{name: "chainlink", err: errors.New("rpc down")},
	)

	got := agg.GetAggregatedPrice(context.Background(), "BTC")
	assert.True(t, got.BestPrice.IsZero())
	assert.Equal(t, domain.NoSourceName, got.BestSourceName)
	assert.NotNil(t, got.Sources)
	assert.Empty(t, got.Sources)
	assert.False(t, got.HasPrice())

	empty := newAgg(time.Second).GetAggregatedPrice(context.Background(), "BTC")
	assert.Equal(t, domain.NoSourceName, empty.BestSourceName)
}

func TestTiesBreakOnLatencyThenName(t *testing.T) {
	agg := newAgg(time.Second,
		&stubSource{name: "b", price: "100", latency: 50},
		&stubSource{name: "a", price: "100", latency: 50},
		&stubSource{name: "c", price: "100", latency: 10},
	)

	for i := 0; i < 5; i++ {
		got := agg.GetAggregatedPrice(context.Background(), "ETH")
		assert.Equal(t, "c", got.BestSourceName)
		assert.Equal(t, "a", got.Sources[1].Name)
		assert.Equal(t, "b", got.Sources[2].Name)
	}
}

func TestWindowCutsSlowSources(t *testing.T) {
	agg := newAgg(50*time.Millisecond,
		&stubSource{name: "fast", price: "10"},
		&stubSource{name: "slow", price: "20", delay: time.Second},
	)

	start := time.Now()
	got := agg.GetAggregatedPrice(context.Background(), "ETH")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "fast", got.BestSourceName)
}

func TestConcurrentCallsShareOneFanOut(t *testing.T) {
	src := &stubSource{name: "pyth", price: "1", delay: 100 * time.Millisecond}
	agg := newAgg(time.Second, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := agg.GetAggregatedPrice(context.Background(), "BTC")
			assert.Equal(t, "pyth", got.BestSourceName)
		}()
	}
	wg.Wait()
	assert.Less(t, int(src.calls.Load()), 8)
}

func TestCallerCancellation(t *testing.T) {
	agg := newAgg(time.Second, &stubSource{name: "slow", price: "1", delay: 500 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got := agg.GetAggregatedPrice(ctx, "BTC")
	assert.Equal(t, domain.NoSourceName, got.BestSourceName)
}

func TestSourceNames(t *testing.T) {
	agg := newAgg(0, &stubSource{name: "pyth"}, &stubSource{name: "gmx"})
	assert.Equal(t, []string{"pyth", "gmx"}, agg.SourceNames())
	assert.Equal(t, DefaultWindow, agg.window)
}
