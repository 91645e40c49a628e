package sideeffect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/platform"
)

// ReputationHandler folds an execution outcome into the venue's counters.
type ReputationHandler struct {
	venues domain.VenueStore
	logger *slog.Logger
}

// NewReputationHandler creates a ReputationHandler.
func NewReputationHandler(venues domain.VenueStore, logger *slog.Logger) *ReputationHandler {
	return &ReputationHandler{
		venues: venues,
		logger: logger.With(slog.String("component", "reputation")),
	}
}

// Handle implements Handler. Venues missing from the store, such as the
// synthetic default venue, are skipped.
func (h *ReputationHandler) Handle(ctx context.Context, task domain.Task) error {
	before, err := h.venues.GetByID(ctx, task.VenueID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.logger.DebugContext(ctx, "skipping unknown venue", slog.String("venue_id", task.VenueID))
			return nil
		}
		return fmt.Errorf("reputation: load venue %s: %w", task.VenueID, err)
	}

	after, err := h.venues.RecordOutcome(ctx, task.VenueID, domain.VenueOutcome{
		Success:   task.Success,
		VolumeUsd: task.SizeUsd,
		LatencyMs: task.LatencyMs,
	})
	if err != nil {
		return fmt.Errorf("reputation: record outcome %s: %w", task.VenueID, err)
	}

	oldRate, _ := before.SuccessRate()
	newRate, _ := after.SuccessRate()
	h.logger.InfoContext(ctx, "venue reputation updated",
		slog.String("venue_id", task.VenueID),
		slog.String("trade_id", task.TradeID),
		slog.Bool("success", task.Success),
		slog.Float64("delta", (newRate-oldRate)*100),
		slog.Int64("total", after.TotalCount),
	)
	return nil
}

// ValidationHandler forwards the trade payload to an external validation
// endpoint.
type ValidationHandler struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewValidationHandler creates a ValidationHandler. An empty url disables it.
func NewValidationHandler(url string, timeout time.Duration, logger *slog.Logger) *ValidationHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ValidationHandler{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "validation")),
	}
}

// Enabled reports whether an endpoint is configured.
func (h *ValidationHandler) Enabled() bool { return h.url != "" }

// Handle implements Handler.
func (h *ValidationHandler) Handle(ctx context.Context, task domain.Task) error {
	if !h.Enabled() {
		return nil
	}
	if len(task.Payload) == 0 {
		return fmt.Errorf("validation: task %s: %w: empty payload", task.ID, domain.ErrInvalidRequest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(task.Payload))
	if err != nil {
		return fmt.Errorf("validation: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", task.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation: post %s: %w", task.TradeID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := platform.CheckHTTPStatus(resp.StatusCode, body); err != nil {
		return fmt.Errorf("validation: trade %s: %w", task.TradeID, err)
	}

	h.logger.InfoContext(ctx, "trade submitted for validation", slog.String("trade_id", task.TradeID))
	return nil
}
