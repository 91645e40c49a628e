package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrLockHeld          = errors.New("lock already held")
	ErrQueueFull         = errors.New("task queue full")
	ErrSourceUnavailable = errors.New("price source unavailable")
	ErrNoData            = errors.New("no data")
	ErrNoPriceAvailable  = errors.New("no price available")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrVenueExecution    = errors.New("venue execution failed")
	ErrSlippageExceeded  = errors.New("expected slippage exceeds limit")
	ErrPositionNotFound  = errors.New("position not found")

	// ErrPersistenceAfterExecution marks a trade that was opened on a venue
	// but could not be written to the trade store.
	ErrPersistenceAfterExecution = errors.New("trade executed but not persisted")
)

// ReconciliationError is returned by ExecuteTrade when the venue accepted the
// trade but the local record could not be stored. The venue position exists;
// the caller must not retry the execution.
type ReconciliationError struct {
	TradeID string
	VenueID string
	TxHash  string
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("trade %s executed on %s (tx %s) but not persisted: %v",
		e.TradeID, e.VenueID, e.TxHash, e.Err)
}

// Unwrap exposes both the sentinel and the underlying store error.
func (e *ReconciliationError) Unwrap() []error {
	return []error{ErrPersistenceAfterExecution, e.Err}
}
