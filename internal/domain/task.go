package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TaskKind names a post-execution side effect.
type TaskKind string

const (
	TaskReputation TaskKind = "reputation"
	TaskValidation TaskKind = "validation"
)

// Task is a fire-and-forget side effect queued after an execution attempt.
type Task struct {
	ID        string          `json:"id"`
	Kind      TaskKind        `json:"kind"`
	TradeID   string          `json:"trade_id,omitempty"`
	VenueID   string          `json:"venue_id"`
	Success   bool            `json:"success"`
	SizeUsd   decimal.Decimal `json:"size_usd"`
	LatencyMs int64           `json:"latency_ms"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// TaskQueue accepts side-effect tasks. Publish must not block on the
// consumer; a saturated queue returns ErrQueueFull.
type TaskQueue interface {
	Publish(ctx context.Context, task Task) error
}

// ReconciliationEntry records a trade that exists on a venue but not in the
// trade store.
type ReconciliationEntry struct {
	TradeID     string    `json:"trade_id"`
	VenueID     string    `json:"venue_id"`
	UserAddress string    `json:"user_address"`
	TxHash      string    `json:"tx_hash"`
	Trade       Trade     `json:"trade"`
	Error       string    `json:"error"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ReconciliationQueue durably records persistence gaps for operator follow-up.
type ReconciliationQueue interface {
	Record(ctx context.Context, entry ReconciliationEntry) error
}
