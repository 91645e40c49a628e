package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// CooldownLimiter implements domain.SourceRateLimiter with one
// "SET cooldown:{source} 1 NX PX interval" per request, so every process
// sharing the Redis instance observes the same interval.
type CooldownLimiter struct {
	rdb       *redis.Client
	intervals map[string]time.Duration
}

// NewCooldownLimiter creates a limiter for the sources in intervals. Sources
// without an entry are never limited.
func NewCooldownLimiter(c *Client, intervals map[string]time.Duration) *CooldownLimiter {
	cp := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		if v > 0 {
			cp[k] = v
		}
	}
	return &CooldownLimiter{rdb: c.Underlying(), intervals: cp}
}

func cooldownKey(source string) string {
	return keyPrefix + "cooldown:" + source
}

// Allow reports whether the source may be called now and, if so, starts its
// cooldown.
func (l *CooldownLimiter) Allow(ctx context.Context, source string) (bool, error) {
	interval, ok := l.intervals[source]
	if !ok {
		return true, nil
	}
	set, err := l.rdb.SetNX(ctx, cooldownKey(source), 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis: cooldown %s: %w", source, err)
	}
	return set, nil
}

// Compile-time interface check.
var _ domain.SourceRateLimiter = (*CooldownLimiter)(nil)
