package scoring

import (
	"sync"
	"time"
)

// LatencyTracker keeps an exponentially weighted moving average of observed
// call latency per venue.
type LatencyTracker struct {
	alpha float64

	mu   sync.RWMutex
	ewma map[string]float64
}

// NewLatencyTracker creates a tracker. alpha is the weight of the newest
// sample, in (0, 1]; anything else falls back to 0.2.
func NewLatencyTracker(alpha float64) *LatencyTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	return &LatencyTracker{alpha: alpha, ewma: make(map[string]float64)}
}

// Observe folds one sample into the venue's average.
func (t *LatencyTracker) Observe(venueID string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.ewma[venueID]
	if !ok {
		t.ewma[venueID] = ms
		return
	}
	t.ewma[venueID] = t.alpha*ms + (1-t.alpha)*cur
}

// Get returns the rounded average in milliseconds.
func (t *LatencyTracker) Get(venueID string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.ewma[venueID]
	if !ok {
		return 0, false
	}
	return int64(v + 0.5), true
}
