package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// FallbackVenues is listed when no venue is configured.
var FallbackVenues = []domain.VenueInfo{
	{ID: "moonlander", Name: "Moonlander", Kind: domain.VenueMoonlander, FeeBps: 10, AvgLatencyMs: 150, VolumeUsd: decimal.Zero, Active: true},
	{ID: "gmx", Name: "GMX", Kind: domain.VenueGMX, FeeBps: 5, AvgLatencyMs: 200, VolumeUsd: decimal.Zero, Active: true},
	{ID: "avantis", Name: "Avantis", Kind: domain.VenueAvantis, FeeBps: 8, AvgLatencyMs: 180, VolumeUsd: decimal.Zero, Active: true},
}

// GetVenues lists active venues ordered by sortBy, at most limit of them.
// limit <= 0 means the default; values above the maximum are capped.
func (r *Router) GetVenues(ctx context.Context, sortBy domain.VenueSortKey, limit int) ([]domain.VenueInfo, error) {
	if limit <= 0 {
		limit = r.cfg.DefaultVenueLimit
	}
	if limit > r.cfg.MaxVenueLimit {
		limit = r.cfg.MaxVenueLimit
	}
	if sortBy == "" {
		sortBy = domain.SortByReputation
	}

	venues, err := r.Venues.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("router: list venues: %w", err)
	}

	var infos []domain.VenueInfo
	if len(venues) == 0 {
		infos = append(infos, FallbackVenues...)
	} else {
		infos = make([]domain.VenueInfo, 0, len(venues))
		for _, v := range venues {
			rate, _ := v.SuccessRate()
			infos = append(infos, domain.VenueInfo{
				ID:           v.ID,
				Name:         v.Name,
				Kind:         v.Kind,
				SuccessRate:  rate,
				VolumeUsd:    v.VolumeUsd,
				AvgLatencyMs: v.AvgLatencyMs,
				FeeBps:       v.FeeBps,
				Active:       v.Active,
			})
		}
	}

	SortVenues(infos, sortBy)
	if len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

// SortVenues orders infos in place. Higher is better for reputation and
// volume, lower for latency and fee. Ties fall back to ID.
func SortVenues(infos []domain.VenueInfo, by domain.VenueSortKey) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		switch by {
		case domain.SortByVolume:
			if c := a.VolumeUsd.Cmp(b.VolumeUsd); c != 0 {
				return c > 0
			}
		case domain.SortByLatency:
			if a.AvgLatencyMs != b.AvgLatencyMs {
				return a.AvgLatencyMs < b.AvgLatencyMs
			}
		case domain.SortByFee:
			if a.FeeBps != b.FeeBps {
				return a.FeeBps < b.FeeBps
			}
		default:
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
		}
		return a.ID < b.ID
	})
}
