// Package router picks the best venue for a trade, prices it against the
// aggregated market, and executes and closes positions through venue
// adapters.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
)

// VenueScorer ranks venues best first.
type VenueScorer interface {
	Score(ctx context.Context, venues []domain.Venue) []domain.VenueScore
}

// LatencyObserver receives venue call latencies.
type LatencyObserver interface {
	Observe(venueID string, d time.Duration)
}

// Alerter sends operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps are the router's collaborators. Venues, Trades, Prices, Scorer and
// Registry are required; the rest may be nil.
type Deps struct {
	Venues         domain.VenueStore
	Trades         domain.TradeStore
	Audit          domain.AuditStore
	Prices         domain.PriceAggregator
	Scorer         VenueScorer
	Registry       *Registry
	Tasks          domain.TaskQueue
	Reconciliation domain.ReconciliationQueue
	Locks          domain.LockManager
	Alerts         Alerter
	Latency        LatencyObserver
	Metrics        *metrics.Metrics
	Logger         *slog.Logger

	Now   func() time.Time
	NewID func() string
}

// Router is the trade routing core.
type Router struct {
	Deps
	cfg    Config
	logger *slog.Logger
}

// New creates a Router.
func New(deps Deps, cfg Config) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Router{
		Deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: deps.Logger.With(slog.String("component", "router")),
	}
}

// GetBestVenue scores the active venues and returns the winner. With no
// venues configured the scorer's synthetic default venue is returned.
func (r *Router) GetBestVenue(ctx context.Context) (domain.VenueScore, error) {
	venues, err := r.Venues.ListActive(ctx)
	if err != nil {
		return domain.VenueScore{}, fmt.Errorf("router: list venues: %w", err)
	}
	scores := r.Scorer.Score(ctx, venues)
	if len(scores) == 0 {
		return domain.VenueScore{}, fmt.Errorf("router: scorer returned no venues: %w", domain.ErrUnknownVenue)
	}
	return scores[0], nil
}

// pricedQuote is a quote plus the values ExecuteTrade needs afterwards.
type pricedQuote struct {
	quote  domain.Quote
	side   domain.Side
	isLong bool
}

// GetQuote prices req on the best venue.
func (r *Router) GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	pq, err := r.quote(ctx, req)
	if err != nil {
		return domain.Quote{}, err
	}
	return pq.quote, nil
}

func (r *Router) quote(ctx context.Context, req domain.QuoteRequest) (pricedQuote, error) {
	start := r.Now()

	base, side, err := r.validate(req)
	if err != nil {
		r.Metrics.Quote("invalid")
		return pricedQuote{}, err
	}

	var (
		venue domain.VenueScore
		price domain.AggregatedPrice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.GetBestVenue(gctx)
		if err != nil {
			return err
		}
		venue = v
		return nil
	})
	g.Go(func() error {
		price = r.Prices.GetAggregatedPrice(gctx, base)
		return nil
	})
	if err := g.Wait(); err != nil {
		r.Metrics.Quote("error")
		return pricedQuote{}, err
	}

	if !price.HasPrice() {
		r.Metrics.Quote("no_price")
		return pricedQuote{}, fmt.Errorf("router: quote %s: %w", req.Pair, domain.ErrNoPriceAvailable)
	}

	isLong := side.IsLong()
	slippage := SlippagePct(r.cfg.SlippageBuckets, req.SizeUsd)
	expected := AdversePrice(price.BestPrice, slippage, isLong)

	q := domain.Quote{
		Venue:               venue,
		PriceSource:         price.BestSourceName,
		BasePrice:           price.BestPrice,
		ExpectedPrice:       expected,
		ExpectedSlippagePct: slippage,
		LiquidationPrice:    LiquidationPrice(expected, req.Leverage, r.cfg.MaintenanceMargin, isLong),
		TotalFees:           Fees(req.SizeUsd, r.cfg.FeeRate),
		QuoteLatencyMs:      r.Now().Sub(start).Milliseconds(),
	}
	r.Metrics.Quote("ok")
	return pricedQuote{quote: q, side: side, isLong: isLong}, nil
}

// validate checks a quote request and returns the base symbol and side.
func (r *Router) validate(req domain.QuoteRequest) (string, domain.Side, error) {
	base, _, err := domain.SplitPair(req.Pair)
	if err != nil {
		return "", "", err
	}
	side, err := domain.ParseSide(string(req.Side))
	if err != nil {
		return "", "", err
	}
	if req.Leverage < 1 || req.Leverage > r.cfg.MaxLeverage {
		return "", "", fmt.Errorf("%w: leverage must be between 1 and %d", domain.ErrInvalidRequest, r.cfg.MaxLeverage)
	}
	if !req.SizeUsd.IsPositive() {
		return "", "", fmt.Errorf("%w: size_usd must be positive", domain.ErrInvalidRequest)
	}
	if req.MaxSlippagePct != nil {
		if req.MaxSlippagePct.IsNegative() || req.MaxSlippagePct.GreaterThan(hundred) {
			return "", "", fmt.Errorf("%w: max_slippage_pct must be between 0 and 100", domain.ErrInvalidRequest)
		}
	}
	return base, side, nil
}

// acceptableSlippage is the caller's limit or the configured default.
func (r *Router) acceptableSlippage(maxPct *decimal.Decimal) decimal.Decimal {
	if maxPct != nil {
		return *maxPct
	}
	return r.cfg.DefaultSlippagePct
}
