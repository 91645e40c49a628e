package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// VenueKind identifies a supported execution venue implementation.
type VenueKind string

const (
	VenueMoonlander VenueKind = "moonlander"
	VenueGMX        VenueKind = "gmx"
	VenueAvantis    VenueKind = "avantis"
)

// VenueKinds lists every kind the router can dispatch to.
var VenueKinds = []VenueKind{VenueMoonlander, VenueGMX, VenueAvantis}

// ParseVenueKind maps a case-insensitive name onto a VenueKind. Names outside
// the supported set return ErrUnknownVenue.
func ParseVenueKind(s string) (VenueKind, error) {
	k := VenueKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range VenueKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVenue, s)
}

// Venue is the stored record for an execution venue, including the running
// counters used for reputation.
type Venue struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         VenueKind       `json:"kind"`
	FeeBps       int             `json:"fee_bps"`
	Active       bool            `json:"active"`
	SuccessCount int64           `json:"success_count"`
	TotalCount   int64           `json:"total_count"`
	VolumeUsd    decimal.Decimal `json:"volume_usd"`
	AvgLatencyMs int64           `json:"avg_latency_ms"`
}

// SuccessRate returns success/total and false when there is no history.
func (v Venue) SuccessRate() (float64, bool) {
	if v.TotalCount <= 0 {
		return 0, false
	}
	return float64(v.SuccessCount) / float64(v.TotalCount), true
}

// VenueScore is the scored view of a venue. Sub-scores are in [0,100].
type VenueScore struct {
	VenueID         string    `json:"venue_id"`
	VenueName       string    `json:"venue_name"`
	Kind            VenueKind `json:"kind"`
	ReputationScore float64   `json:"reputation_score"`
	LiquidityScore  float64   `json:"liquidity_score"`
	FeeScore        float64   `json:"fee_score"`
	LatencyMs       int64     `json:"latency_ms"`
	CompositeScore  float64   `json:"composite_score"`
}

// VenueInfo is the public listing entry returned by GetVenues.
type VenueInfo struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         VenueKind       `json:"kind"`
	SuccessRate  float64         `json:"success_rate"`
	VolumeUsd    decimal.Decimal `json:"volume_usd"`
	AvgLatencyMs int64           `json:"avg_latency_ms"`
	FeeBps       int             `json:"fee_bps"`
	Active       bool            `json:"active"`
}

// VenueSortKey selects the ordering of GetVenues.
type VenueSortKey string

const (
	SortByReputation VenueSortKey = "reputation"
	SortByVolume     VenueSortKey = "volume"
	SortByLatency    VenueSortKey = "latency"
	SortByFee        VenueSortKey = "fee"
)

// ParseVenueSortKey defaults to reputation for empty input.
func ParseVenueSortKey(s string) (VenueSortKey, error) {
	switch k := VenueSortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortByReputation, nil
	case SortByReputation, SortByVolume, SortByLatency, SortByFee:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown sort key %q", ErrInvalidRequest, s)
	}
}

// Position is a venue's view of an open position.
type Position struct {
	Key        string          `json:"key"`
	Pair       string          `json:"pair"`
	IsLong     bool            `json:"is_long"`
	SizeUsd    decimal.Decimal `json:"size_usd"`
	Collateral decimal.Decimal `json:"collateral"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// OpenPositionRequest is what the router hands a venue adapter on execution.
type OpenPositionRequest struct {
	UserAddress        string
	Pair               string
	IsLong             bool
	CollateralUsd      decimal.Decimal
	SizeUsd            decimal.Decimal
	Leverage           int
	AcceptablePrice    decimal.Decimal
	AcceptableSlippage decimal.Decimal
	StopLoss           *decimal.Decimal
	TakeProfit         *decimal.Decimal
}

// ClosePositionRequest asks a venue to close an existing position.
type ClosePositionRequest struct {
	UserAddress        string
	PositionKey        string
	Pair               string
	IsLong             bool
	SizeUsd            decimal.Decimal
	AcceptableSlippage decimal.Decimal
	CurrentPrice       decimal.Decimal
}

// VenueAdapter is the execution surface of a single venue. The adapter owns
// signing and broadcasting; the router only sees transaction hashes.
type VenueAdapter interface {
	Kind() VenueKind
	OpenPosition(ctx context.Context, req OpenPositionRequest) (txHash string, err error)
	ClosePosition(ctx context.Context, req ClosePositionRequest) (txHash string, err error)
	// GetPosition returns nil without error when the user has no position.
	GetPosition(ctx context.Context, userAddress, pair string, isLong bool) (*Position, error)
}
