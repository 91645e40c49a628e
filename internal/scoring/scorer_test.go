package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

func TestSubScores(t *testing.T) {
	assert.Equal(t, 98.0, FeeScore(10))
	assert.Equal(t, 0.0, FeeScore(600))
	assert.Equal(t, 100.0, FeeScore(0))

	assert.Equal(t, 85.0, LatencyScore(150))
	assert.Equal(t, 0.0, LatencyScore(5000))

	assert.InDelta(t, 80.0, ReputationScore(domain.Venue{}, 0.8), 1e-9)
	assert.InDelta(t, 75.0, ReputationScore(domain.Venue{SuccessCount: 3, TotalCount: 4}, 0.8), 1e-9)

	assert.InDelta(t, 100.0, Composite(100, 100, 100, 100), 1e-9)
	assert.InDelta(t, 0.4*80+0.3*50+0.2*98+0.1*85, Composite(80, 50, 98, 85), 1e-9)
}

func TestWeightsSumToOne(t *testing.T) {
	assert.Equal(t, 1.0, WeightReputation+WeightLiquidity+WeightFee+WeightLatency)
}

func TestCompositeStaysInRange(t *testing.T) {
	tests := []struct {
		name                                string
		reputation, liquidity, fee, latency float64
		want                                float64
	}{
		{"all zero", 0, 0, 0, 0, 0},
		{"all max", 100, 100, 100, 100, 100},
		{"reputation only", 100, 0, 0, 0, 40},
		{"latency only", 0, 0, 0, 100, 10},
		{"mixed", 75, 20, 98, 5, 0.4*75 + 0.3*20 + 0.2*98 + 0.1*5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Composite(tt.reputation, tt.liquidity, tt.fee, tt.latency)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestScoreOrdersByComposite(t *testing.T) {
	s := New(Config{}, StaticLiquidity{Default: 50, PerVenue: map[string]float64{"deep": 90}}, nil)

	venues := []domain.Venue{
		{ID: "slow", Kind: domain.VenueAvantis, FeeBps: 10, AvgLatencyMs: 900},
		{ID: "deep", Kind: domain.VenueGMX, FeeBps: 10, AvgLatencyMs: 100},
		{ID: "flaky", Kind: domain.VenueMoonlander, FeeBps: 10, AvgLatencyMs: 100, SuccessCount: 1, TotalCount: 10},
	}
	got := s.Score(context.Background(), venues)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"deep", "slow", "flaky"}, []string{got[0].VenueID, got[1].VenueID, got[2].VenueID})
	assert.Equal(t, 90.0, got[0].LiquidityScore)
	assert.Equal(t, domain.VenueGMX, got[0].Kind)

	for _, sc := range got {
		assert.GreaterOrEqual(t, sc.CompositeScore, 0.0)
		assert.LessOrEqual(t, sc.CompositeScore, 100.0)
	}
}

func TestScoreTieBreaksOnID(t *testing.T) {
	s := New(Config{}, nil, nil)
	got := s.Score(context.Background(), []domain.Venue{{ID: "b"}, {ID: "a"}})
	assert.Equal(t, "a", got[0].VenueID)
}

func TestScoreEmptyReturnsDefaultVenue(t *testing.T) {
	s := New(Config{DefaultKind: domain.VenueGMX}, nil, nil)
	got := s.Score(context.Background(), nil)
	require.Len(t, got, 1)
	assert.Equal(t, DefaultVenueID, got[0].VenueID)
	assert.Equal(t, domain.VenueGMX, got[0].Kind)
	assert.Equal(t, 100.0, got[0].CompositeScore)
	assert.Equal(t, 100.0, got[0].ReputationScore)
	assert.Equal(t, 100.0, got[0].LiquidityScore)
	assert.Equal(t, 100.0, got[0].FeeScore)
}

func TestLatencyTrackerOverridesStoredAverage(t *testing.T) {
	lt := NewLatencyTracker(0.5)
	lt.Observe("gmx", 100*time.Millisecond)
	lt.Observe("gmx", 300*time.Millisecond)

	ms, ok := lt.Get("gmx")
	require.True(t, ok)
	assert.Equal(t, int64(200), ms)

	_, ok = lt.Get("other")
	assert.False(t, ok)

	s := New(Config{}, nil, lt)
	sc := s.ScoreVenue(context.Background(), domain.Venue{ID: "gmx", AvgLatencyMs: 900})
	assert.Equal(t, int64(200), sc.LatencyMs)
}
