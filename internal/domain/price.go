package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NoSourceName is the BestSourceName of an aggregate with no usable quote.
const NoSourceName = "none"

// PriceSource is a single price observation from one source.
type PriceSource struct {
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	LatencyMs  int64           `json:"latency_ms"`
	ObservedAt time.Time       `json:"observed_at"`
}

// AggregatedPrice is the fan-out result for one symbol. Sources is sorted by
// price descending and BestPrice equals the first entry's price.
type AggregatedPrice struct {
	Symbol         string          `json:"symbol"`
	BestPrice      decimal.Decimal `json:"best_price"`
	BestSourceName string          `json:"best_source"`
	Sources        []PriceSource   `json:"sources"`
	AggregatedAt   time.Time       `json:"aggregated_at"`
	TotalLatencyMs int64           `json:"total_latency_ms"`
}

// EmptyAggregatedPrice is the sentinel returned when no source produced a
// positive price.
func EmptyAggregatedPrice(symbol string, at time.Time, latencyMs int64) AggregatedPrice {
	return AggregatedPrice{
		Symbol:         symbol,
		BestPrice:      decimal.Zero,
		BestSourceName: NoSourceName,
		Sources:        []PriceSource{},
		AggregatedAt:   at,
		TotalLatencyMs: latencyMs,
	}
}

// HasPrice reports whether at least one source produced a usable price.
func (p AggregatedPrice) HasPrice() bool {
	return p.BestPrice.IsPositive()
}

// CachedPrice is what the price cache stores per (symbol, source).
type CachedPrice struct {
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// PriceSourceAdapter fetches the current price of a symbol from one source.
// Implementations return an error instead of a zero price when they have
// nothing usable.
type PriceSourceAdapter interface {
	Name() string
	FetchPrice(ctx context.Context, symbol string) (PriceSource, error)
}

// PriceAggregator combines every registered source into one AggregatedPrice.
type PriceAggregator interface {
	GetAggregatedPrice(ctx context.Context, symbol string) AggregatedPrice
}
