package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestPriceCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	cache := NewPriceCache(c)

	observed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := domain.CachedPrice{Price: decimal.RequireFromString("60123.45"), ObservedAt: observed}
	require.NoError(t, cache.Set(ctx, "BTC", "pyth", in, 10*time.Second))

	got, ok, err := cache.Get(ctx, "BTC", "pyth")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, in.Price.Equal(got.Price))
	assert.True(t, observed.Equal(got.ObservedAt))

	mr.FastForward(11 * time.Second)
	_, ok, err = cache.Get(ctx, "BTC", "pyth")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCooldownLimiter(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lim := NewCooldownLimiter(c, map[string]time.Duration{"coingecko": 6 * time.Second})

	ok, err := lim.Allow(ctx, "coingecko")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lim.Allow(ctx, "coingecko")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(6 * time.Second)
	ok, err = lim.Allow(ctx, "coingecko")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lim.Allow(ctx, "uniswap")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "trade:1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "trade:1", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "trade:1", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestTaskStreamPublishReadAck(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	ts := NewTaskStream(c, TaskStreamConfig{})
	require.NoError(t, ts.EnsureGroup(ctx))
	require.NoError(t, ts.EnsureGroup(ctx), "group creation is idempotent")

	task := domain.Task{ID: "task-1", Kind: domain.TaskReputation, VenueID: "gmx", Success: true}
	require.NoError(t, ts.Publish(ctx, task))

	msgs, err := ts.Read(ctx, 10, -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), `"task-1"`)
	require.NoError(t, ts.Ack(ctx, msgs[0].ID))

	msgs, err = ts.Read(ctx, 10, -1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReconciliationStream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	rs := NewReconciliationStream(c)

	entry := domain.ReconciliationEntry{
		TradeID: "t-1",
		VenueID: "moonlander",
		TxHash:  "0xdead",
		Error:   "insert failed",
	}
	require.NoError(t, rs.Record(ctx, entry))

	pending, err := rs.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xdead", pending[0].TxHash)
}
