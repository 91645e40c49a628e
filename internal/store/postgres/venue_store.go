package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// VenueStore implements domain.VenueStore.
type VenueStore struct {
	db DBTX
}

// NewVenueStore creates a VenueStore.
func NewVenueStore(db DBTX) *VenueStore {
	return &VenueStore{db: db}
}

const venueSelectCols = `id, name, kind, fee_bps, active,
	success_count, total_count, volume_usd, avg_latency_ms`

func scanVenue(row pgx.Row) (domain.Venue, error) {
	var v domain.Venue
	var kind string
	if err := row.Scan(
		&v.ID, &v.Name, &kind, &v.FeeBps, &v.Active,
		&v.SuccessCount, &v.TotalCount, &v.VolumeUsd, &v.AvgLatencyMs,
	); err != nil {
		return domain.Venue{}, err
	}
	v.Kind = domain.VenueKind(kind)
	return v, nil
}

// Upsert creates a venue or updates its static fields. Counters are kept.
func (s *VenueStore) Upsert(ctx context.Context, v domain.Venue) error {
	const query = `
		INSERT INTO venues (id, name, kind, fee_bps, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			fee_bps = EXCLUDED.fee_bps,
			active = EXCLUDED.active,
			updated_at = NOW()`

	if _, err := s.db.Exec(ctx, query, v.ID, v.Name, string(v.Kind), v.FeeBps, v.Active); err != nil {
		return fmt.Errorf("postgres: upsert venue %s: %w", v.ID, err)
	}
	return nil
}

// GetByID returns one venue.
func (s *VenueStore) GetByID(ctx context.Context, id string) (domain.Venue, error) {
	query := `SELECT ` + venueSelectCols + ` FROM venues WHERE id = $1`
	v, err := scanVenue(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Venue{}, fmt.Errorf("postgres: venue %s: %w", id, domain.ErrNotFound)
		}
		return domain.Venue{}, fmt.Errorf("postgres: get venue %s: %w", id, err)
	}
	return v, nil
}

// ListActive returns active venues ordered by id.
func (s *VenueStore) ListActive(ctx context.Context) ([]domain.Venue, error) {
	query := `SELECT ` + venueSelectCols + ` FROM venues WHERE active ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list venues: %w", err)
	}
	defer rows.Close()

	var venues []domain.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan venue: %w", err)
		}
		venues = append(venues, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list venues rows: %w", err)
	}
	return venues, nil
}

// RecordOutcome bumps the counters in one statement. The average latency is
// a running mean over outcomes that reported a latency.
func (s *VenueStore) RecordOutcome(ctx context.Context, id string, o domain.VenueOutcome) (domain.Venue, error) {
	query := `
		UPDATE venues SET
			total_count = total_count + 1,
			success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
			volume_usd = volume_usd + $3,
			avg_latency_ms = CASE
				WHEN $4 <= 0 THEN avg_latency_ms
				ELSE (avg_latency_ms * total_count + $4) / (total_count + 1)
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + venueSelectCols

	v, err := scanVenue(s.db.QueryRow(ctx, query, id, o.Success, o.VolumeUsd, o.LatencyMs))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Venue{}, fmt.Errorf("postgres: venue %s: %w", id, domain.ErrNotFound)
		}
		return domain.Venue{}, fmt.Errorf("postgres: record outcome %s: %w", id, err)
	}
	return v, nil
}

var _ domain.VenueStore = (*VenueStore)(nil)
