package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

type keyedLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. Keys without a configured limit
// are always allowed.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	limitFor func(key string) (rate.Limit, int, bool)
	now      func() time.Time
}

// NewSourceLimiter enforces a minimum interval between requests for each
// source named in intervals. Sources not in the map are unlimited.
func NewSourceLimiter(intervals map[string]time.Duration) *RateLimiter {
	cp := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		if v > 0 {
			cp[k] = v
		}
	}
	return &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		limitFor: func(key string) (rate.Limit, int, bool) {
			d, ok := cp[key]
			if !ok {
				return 0, 0, false
			}
			return rate.Every(d), 1, true
		},
		now: time.Now,
	}
}

// NewKeyedLimiter applies the same limit to every key, e.g. one bucket per
// client IP.
func NewKeyedLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		limitFor: func(string) (rate.Limit, int, bool) {
			return rate.Limit(perSecond), burst, true
		},
		now: time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Allow consumes one token for key if available.
func (l *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	limit, burst, ok := l.limitFor(key)
	if !ok {
		return true, nil
	}

	now := l.now()
	l.mu.Lock()
	kl, exists := l.limiters[key]
	if !exists {
		kl = &keyedLimiter{lim: rate.NewLimiter(limit, burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now
	allowed := kl.lim.AllowN(now, 1)
	l.mu.Unlock()

	return allowed, nil
}

// Sweep drops buckets idle for longer than idle and returns how many went.
func (l *RateLimiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, kl := range l.limiters {
		if kl.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
			n++
		}
	}
	return n
}

var _ domain.SourceRateLimiter = (*RateLimiter)(nil)
