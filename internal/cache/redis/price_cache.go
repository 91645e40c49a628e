package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// (symbol, source) pair lives at "vrouter:price:{symbol}:{source}" with fields
// "price" and "ts" (Unix nanoseconds) and a millisecond expiry.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(symbol, source string) string {
	return keyPrefix + "price:" + symbol + ":" + source
}

// Set stores the price and applies ttl. A non-positive ttl is a no-op.
func (pc *PriceCache) Set(ctx context.Context, symbol, source string, p domain.CachedPrice, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := priceKey(symbol, source)
	_, err := pc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"price": p.Price.String(),
			"ts":    strconv.FormatInt(p.ObservedAt.UnixNano(), 10),
		})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", symbol, source, err)
	}
	return nil
}

// Get returns the cached price, or ok=false when the key is absent or expired.
func (pc *PriceCache) Get(ctx context.Context, symbol, source string) (domain.CachedPrice, bool, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol, source)).Result()
	if err != nil {
		return domain.CachedPrice{}, false, fmt.Errorf("redis: get price %s/%s: %w", symbol, source, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return domain.CachedPrice{}, false, nil
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.CachedPrice{}, false, fmt.Errorf("redis: parse price %s/%s: %w", symbol, source, err)
	}

	var observed time.Time
	if tsStr, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.CachedPrice{}, false, fmt.Errorf("redis: parse ts %s/%s: %w", symbol, source, err)
		}
		observed = time.Unix(0, ns).UTC()
	}

	return domain.CachedPrice{Price: price, ObservedAt: observed}, true, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
