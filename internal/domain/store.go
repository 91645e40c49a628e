package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists trades opened through the router.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	// Close transitions an open trade to closed. It returns ErrNotFound when
	// the trade does not exist or is no longer open.
	Close(ctx context.Context, id string, c TradeClose) error
	ListByUser(ctx context.Context, userAddress string, opts ListOpts) ([]Trade, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	MarkArchived(ctx context.Context, ids []string) error
}

// VenueOutcome is one execution attempt reported back to the venue record.
type VenueOutcome struct {
	Success   bool
	VolumeUsd decimal.Decimal
	LatencyMs int64
}

// VenueStore persists venue metadata and reputation counters.
type VenueStore interface {
	Upsert(ctx context.Context, v Venue) error
	GetByID(ctx context.Context, id string) (Venue, error)
	ListActive(ctx context.Context) ([]Venue, error)
	// RecordOutcome applies one outcome atomically and returns the updated venue.
	RecordOutcome(ctx context.Context, id string, o VenueOutcome) (Venue, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
