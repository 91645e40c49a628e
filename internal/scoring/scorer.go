// Package scoring ranks execution venues by a weighted composite of
// reputation, liquidity, fees and latency.
package scoring

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// Composite weights. They sum to 1.
const (
	WeightReputation = 0.4
	WeightLiquidity  = 0.3
	WeightFee        = 0.2
	WeightLatency    = 0.1
)

// DefaultVenueID names the synthetic venue returned when none are configured.
const DefaultVenueID = "default"

// Config tunes the scorer.
type Config struct {
	// ReputationPrior is the success rate assumed for venues with no history.
	ReputationPrior float64
	// DefaultKind is the adapter kind of the synthetic default venue.
	DefaultKind domain.VenueKind
}

// LiquidityEstimator returns a 0-100 liquidity score for a venue.
type LiquidityEstimator interface {
	Estimate(ctx context.Context, v domain.Venue) float64
}

// StaticLiquidity serves configured per-venue estimates.
type StaticLiquidity struct {
	Default  float64
	PerVenue map[string]float64
}

// Estimate implements LiquidityEstimator.
func (s StaticLiquidity) Estimate(_ context.Context, v domain.Venue) float64 {
	if est, ok := s.PerVenue[v.ID]; ok {
		return clamp(est)
	}
	return clamp(s.Default)
}

// Scorer implements venue ranking.
type Scorer struct {
	cfg       Config
	liquidity LiquidityEstimator
	latency   *LatencyTracker
}

// New creates a Scorer. latency may be nil, in which case the stored average
// latency of each venue is used.
func New(cfg Config, liquidity LiquidityEstimator, latency *LatencyTracker) *Scorer {
	if cfg.ReputationPrior <= 0 || cfg.ReputationPrior > 1 {
		cfg.ReputationPrior = 0.8
	}
	if cfg.DefaultKind == "" {
		cfg.DefaultKind = domain.VenueMoonlander
	}
	if liquidity == nil {
		liquidity = StaticLiquidity{Default: 50}
	}
	return &Scorer{cfg: cfg, liquidity: liquidity, latency: latency}
}

// Score scores every venue concurrently and returns them best first. Ties
// are broken by venue ID. An empty input yields the synthetic default venue.
func (s *Scorer) Score(ctx context.Context, venues []domain.Venue) []domain.VenueScore {
	if len(venues) == 0 {
		return []domain.VenueScore{s.defaultScore()}
	}

	scores := make([]domain.VenueScore, len(venues))
	var g errgroup.Group
	for i, v := range venues {
		g.Go(func() error {
			scores[i] = s.ScoreVenue(ctx, v)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].CompositeScore != scores[j].CompositeScore {
			return scores[i].CompositeScore > scores[j].CompositeScore
		}
		return scores[i].VenueID < scores[j].VenueID
	})
	return scores
}

// ScoreVenue computes one venue's score.
func (s *Scorer) ScoreVenue(ctx context.Context, v domain.Venue) domain.VenueScore {
	latencyMs := v.AvgLatencyMs
	if s.latency != nil {
		if observed, ok := s.latency.Get(v.ID); ok {
			latencyMs = observed
		}
	}

	rep := ReputationScore(v, s.cfg.ReputationPrior)
	liq := s.liquidity.Estimate(ctx, v)
	fee := FeeScore(v.FeeBps)
	lat := LatencyScore(latencyMs)

	return domain.VenueScore{
		VenueID:         v.ID,
		VenueName:       v.Name,
		Kind:            v.Kind,
		ReputationScore: rep,
		LiquidityScore:  liq,
		FeeScore:        fee,
		LatencyMs:       latencyMs,
		CompositeScore:  Composite(rep, liq, fee, lat),
	}
}

func (s *Scorer) defaultScore() domain.VenueScore {
	return domain.VenueScore{
		VenueID:         DefaultVenueID,
		VenueName:       DefaultVenueID,
		Kind:            s.cfg.DefaultKind,
		ReputationScore: 100,
		LiquidityScore:  100,
		FeeScore:        100,
		LatencyMs:       0,
		CompositeScore:  100,
	}
}

// ReputationScore is the venue's success rate as a percentage, or the prior
// when it has no history.
func ReputationScore(v domain.Venue, prior float64) float64 {
	rate, ok := v.SuccessRate()
	if !ok {
		rate = prior
	}
	return clamp(rate * 100)
}

// FeeScore maps basis points onto 0-100; 500 bps or more scores zero.
func FeeScore(feeBps int) float64 {
	return clamp(100 - float64(feeBps)/5)
}

// LatencyScore maps milliseconds onto 0-100; one second or more scores zero.
func LatencyScore(latencyMs int64) float64 {
	return clamp(100 - float64(latencyMs)/10)
}

// Composite blends the sub-scores with the fixed weights.
func Composite(reputation, liquidity, fee, latency float64) float64 {
	return clamp(WeightReputation*reputation +
		WeightLiquidity*liquidity +
		WeightFee*fee +
		WeightLatency*latency)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
