// Package aggregator fans a price request out to every registered source and
// keeps the best answer.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
)

// DefaultWindow bounds one fan-out when no window is configured.
const DefaultWindow = 3 * time.Second

// Aggregator implements domain.PriceAggregator.
type Aggregator struct {
	sources []domain.PriceSourceAdapter
	window  time.Duration
	flight  singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Aggregator over sources. window caps the whole fan-out on top
// of each source's own timeout.
func New(sources []domain.PriceSourceAdapter, window time.Duration, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{
		sources: sources,
		window:  window,
		metrics: m,
		logger:  logger.With(slog.String("component", "aggregator")),
		now:     time.Now,
	}
}

// SourceNames lists the registered sources in registration order.
func (a *Aggregator) SourceNames() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// GetAggregatedPrice queries every source concurrently, waits for all of them
// (or the window), and returns the responding prices sorted high to low.
// Individual failures are logged and dropped; the result is never an error.
// Concurrent calls for the same symbol share one fan-out.
func (a *Aggregator) GetAggregatedPrice(ctx context.Context, symbol string) domain.AggregatedPrice {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	ch := a.flight.DoChan(key, func() (interface{}, error) {
		// The fan-out outlives any single caller so joined callers are not
		// cut short when the first one goes away.
		return a.fanOut(context.WithoutCancel(ctx), key), nil
	})

	select {
	case res := <-ch:
		return res.Val.(domain.AggregatedPrice)
	case <-ctx.Done():
		return domain.EmptyAggregatedPrice(key, a.now().UTC(), 0)
	}
}

func (a *Aggregator) fanOut(ctx context.Context, symbol string) domain.AggregatedPrice {
	start := a.now()
	ctx, cancel := context.WithTimeout(ctx, a.window)
	defer cancel()

	results := make([]*domain.PriceSource, len(a.sources))
	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			ps, err := src.FetchPrice(ctx, symbol)
			if err != nil {
				a.logger.WarnContext(ctx, "price source unavailable",
					slog.String("source", src.Name()),
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !ps.Price.IsPositive() {
				return nil
			}
			if ps.Name == "" {
				ps.Name = src.Name()
			}
			results[i] = &ps
			return nil
		})
	}
	_ = g.Wait()

	elapsed := a.now().Sub(start)
	quotes := make([]domain.PriceSource, 0, len(results))
	for _, r := range results {
		if r != nil {
			quotes = append(quotes, *r)
		}
	}
	a.metrics.Aggregation(elapsed, len(quotes))

	if len(quotes) == 0 {
		a.logger.WarnContext(ctx, "no price available",
			slog.String("symbol", symbol),
			slog.Int("sources", len(a.sources)),
		)
		return domain.EmptyAggregatedPrice(symbol, a.now().UTC(), elapsed.Milliseconds())
	}

	SortByPrice(quotes)
	return domain.AggregatedPrice{
		Symbol:         symbol,
		BestPrice:      quotes[0].Price,
		BestSourceName: quotes[0].Name,
		Sources:        quotes,
		AggregatedAt:   a.now().UTC(),
		TotalLatencyMs: elapsed.Milliseconds(),
	}
}

// SortByPrice orders quotes by price descending. Equal prices go to the
// faster source, then by name, so the pick is stable across calls.
func SortByPrice(quotes []domain.PriceSource) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if c := quotes[i].Price.Cmp(quotes[j].Price); c != 0 {
			return c > 0
		}
		if quotes[i].LatencyMs != quotes[j].LatencyMs {
			return quotes[i].LatencyMs < quotes[j].LatencyMs
		}
		return quotes[i].Name < quotes[j].Name
	})
}

// Compile-time interface check.
var _ domain.PriceAggregator = (*Aggregator)(nil)
