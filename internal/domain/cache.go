package domain

import (
	"context"
	"time"
)

// PriceCache stores recent prices per (symbol, source) with a per-entry TTL.
// Expired entries are reported as misses.
type PriceCache interface {
	Get(ctx context.Context, symbol, source string) (CachedPrice, bool, error)
	Set(ctx context.Context, symbol, source string, price CachedPrice, ttl time.Duration) error
}

// SourceRateLimiter enforces a minimum interval between upstream requests to
// one source. Allow consumes the slot when it returns true.
type SourceRateLimiter interface {
	Allow(ctx context.Context, source string) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}
