// Package memory implements the domain cache interfaces in process memory.
// It is used when Redis is not configured and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

type priceEntry struct {
	price     domain.CachedPrice
	expiresAt time.Time
}

// PriceCache implements domain.PriceCache with a mutex-guarded map. Entries
// expire lazily on read and are removed in bulk by Sweep.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]priceEntry
	now     func() time.Time
}

// NewPriceCache creates an empty PriceCache using the wall clock.
func NewPriceCache() *PriceCache {
	return NewPriceCacheWithClock(time.Now)
}

// NewPriceCacheWithClock creates a PriceCache that reads time from now.
func NewPriceCacheWithClock(now func() time.Time) *PriceCache {
	return &PriceCache{
		entries: make(map[string]priceEntry),
		now:     now,
	}
}

func priceKey(symbol, source string) string {
	return symbol + ":" + source
}

// Get returns the cached price for (symbol, source) if it has not expired.
func (c *PriceCache) Get(_ context.Context, symbol, source string) (domain.CachedPrice, bool, error) {
	key := priceKey(symbol, source)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return domain.CachedPrice{}, false, nil
	}

	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return domain.CachedPrice{}, false, nil
	}
	return e.price, true, nil
}

// Set stores a price with the given TTL. A non-positive TTL is a no-op.
func (c *PriceCache) Set(_ context.Context, symbol, source string, price domain.CachedPrice, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[priceKey(symbol, source)] = priceEntry{
		price:     price,
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *PriceCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ domain.PriceCache = (*PriceCache)(nil)
