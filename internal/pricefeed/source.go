// Package pricefeed turns upstream price clients into PriceSourceAdapters.
// Every source goes through the same pipeline: cache, cooldown, circuit
// breaker, timeout, validation.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
)

// Fetcher reads one price from an upstream. It returns domain.ErrNoData for
// symbols it does not know.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	return f(ctx, symbol)
}

// SourceConfig tunes one source.
type SourceConfig struct {
	Name    string
	TTL     time.Duration // cache lifetime; 0 disables caching
	Timeout time.Duration // per upstream call

	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown. Zero failures disables the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Deps are the shared collaborators of every source. All fields are optional
// except Logger.
type Deps struct {
	Cache   domain.PriceCache
	Limiter domain.SourceRateLimiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Source implements domain.PriceSourceAdapter.
type Source struct {
	cfg     SourceConfig
	fetcher Fetcher
	cache   domain.PriceCache
	limiter domain.SourceRateLimiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSource wraps f with the source pipeline.
func NewSource(cfg SourceConfig, f Fetcher, deps Deps) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger.With(slog.String("component", "pricefeed"), slog.String("source", cfg.Name))

	s := &Source{
		cfg:     cfg,
		fetcher: f,
		cache:   deps.Cache,
		limiter: deps.Limiter,
		metrics: deps.Metrics,
		logger:  logger,
		now:     now,
	}
	if cfg.BreakerFailures > 0 {
		threshold := cfg.BreakerFailures
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			// A source that simply has no data for a symbol is healthy.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrNoData)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("price source breaker state change",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		})
	}
	return s
}

// Name returns the source name.
func (s *Source) Name() string { return s.cfg.Name }

type fetched struct {
	price decimal.Decimal
	at    time.Time
}

// FetchPrice returns the current price of symbol from this source.
func (s *Source) FetchPrice(ctx context.Context, symbol string) (domain.PriceSource, error) {
	if cached, ok := s.lookup(ctx, symbol); ok {
		s.metrics.SourceRequest(s.cfg.Name, metrics.OutcomeCacheHit)
		return domain.PriceSource{
			Name:       s.cfg.Name,
			Price:      cached.Price,
			LatencyMs:  0,
			ObservedAt: cached.ObservedAt,
		}, nil
	}

	if !s.allowed(ctx) {
		s.metrics.SourceRequest(s.cfg.Name, metrics.OutcomeRateLimited)
		return domain.PriceSource{}, fmt.Errorf("pricefeed/%s: cooling down: %w", s.cfg.Name, domain.ErrNoData)
	}

	start := s.now()
	res, err := s.execute(ctx, symbol)
	elapsed := s.now().Sub(start)
	s.metrics.SourceLatency(s.cfg.Name, elapsed)

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			s.metrics.SourceRequest(s.cfg.Name, metrics.OutcomeBreakerOpen)
			return domain.PriceSource{}, fmt.Errorf("pricefeed/%s: %w: breaker open", s.cfg.Name, domain.ErrSourceUnavailable)
		case errors.Is(err, domain.ErrNoData):
			s.metrics.SourceRequest(s.cfg.Name, metrics.OutcomeNoData)
		default:
			s.metrics.SourceRequest(s.cfg.Name, metrics.OutcomeError)
		}
		return domain.PriceSource{}, fmt.Errorf("pricefeed/%s: fetch %s: %w", s.cfg.Name, symbol, err)
	}

	s.metrics.SourceRequest(s.cfg.Name, metrics.OutcomeOK)
	s.store(ctx, symbol, domain.CachedPrice{Price: res.price, ObservedAt: res.at})

	return domain.PriceSource{
		Name:       s.cfg.Name,
		Price:      res.price,
		LatencyMs:  elapsed.Milliseconds(),
		ObservedAt: res.at,
	}, nil
}

// execute runs the upstream call under the breaker and the per-call timeout.
func (s *Source) execute(ctx context.Context, symbol string) (fetched, error) {
	run := func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		price, at, err := s.fetcher.Fetch(callCtx, symbol)
		if err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("non-positive price %s: %w", price, domain.ErrNoData)
		}
		if at.IsZero() {
			at = s.now()
		}
		return fetched{price: price, at: at.UTC()}, nil
	}

	if s.breaker == nil {
		v, err := run()
		if err != nil {
			return fetched{}, err
		}
		return v.(fetched), nil
	}
	v, err := s.breaker.Execute(run)
	if err != nil {
		return fetched{}, err
	}
	return v.(fetched), nil
}

func (s *Source) lookup(ctx context.Context, symbol string) (domain.CachedPrice, bool) {
	if s.cache == nil || s.cfg.TTL <= 0 {
		return domain.CachedPrice{}, false
	}
	cp, ok, err := s.cache.Get(ctx, symbol, s.cfg.Name)
	if err != nil {
		s.logger.WarnContext(ctx, "price cache read failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return domain.CachedPrice{}, false
	}
	return cp, ok
}

func (s *Source) store(ctx context.Context, symbol string, cp domain.CachedPrice) {
	if s.cache == nil || s.cfg.TTL <= 0 {
		return
	}
	if err := s.cache.Set(ctx, symbol, s.cfg.Name, cp, s.cfg.TTL); err != nil {
		s.logger.WarnContext(ctx, "price cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// allowed consults the cooldown limiter. A failing limiter lets the call
// through.
func (s *Source) allowed(ctx context.Context) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(ctx, s.cfg.Name)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter check failed",
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// Compile-time interface check.
var _ domain.PriceSourceAdapter = (*Source)(nil)
