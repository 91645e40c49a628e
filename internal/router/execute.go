package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/notify"
)

const alertTimeout = 15 * time.Second

// Metadata keys written on every trade.
const (
	metaVenueKind   = "venue_kind"
	metaVenueName   = "venue_name"
	metaPriceSource = "price_source"
	metaBasePrice   = "base_price"
	metaSlippage    = "expected_slippage_pct"
	metaFees        = "total_fees"
	metaComposite   = "composite_score"
	metaQuoteMs     = "quote_latency_ms"
)

// ExecuteTrade re-quotes req, opens the position on the winning venue and
// records the trade. A venue failure returns ErrVenueExecution and stores
// nothing. A storage failure after the venue accepted the order returns a
// *domain.ReconciliationError.
func (r *Router) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	if !common.IsHexAddress(req.UserAddress) {
		return domain.TradeResult{}, fmt.Errorf("%w: invalid user address %q", domain.ErrInvalidRequest, req.UserAddress)
	}

	pq, err := r.quote(ctx, req.QuoteRequest)
	if err != nil {
		return domain.TradeResult{}, err
	}
	q := pq.quote

	if req.MaxSlippagePct != nil && q.ExpectedSlippagePct.GreaterThan(*req.MaxSlippagePct) {
		return domain.TradeResult{}, fmt.Errorf("%w: expected %s%% > max %s%%",
			domain.ErrSlippageExceeded, q.ExpectedSlippagePct, req.MaxSlippagePct)
	}

	adapter, err := r.Registry.Resolve(q.Venue.Kind)
	if err != nil {
		return domain.TradeResult{}, fmt.Errorf("router: execute on %s: %w", q.Venue.VenueID, err)
	}

	acceptable := r.acceptableSlippage(req.MaxSlippagePct)
	open := domain.OpenPositionRequest{
		UserAddress:        req.UserAddress,
		Pair:               strings.ToUpper(req.Pair),
		IsLong:             pq.isLong,
		CollateralUsd:      req.SizeUsd.Div(decimal.NewFromInt(int64(req.Leverage))),
		SizeUsd:            req.SizeUsd,
		Leverage:           req.Leverage,
		AcceptablePrice:    AdversePrice(q.BasePrice, acceptable, pq.isLong),
		AcceptableSlippage: acceptable,
		StopLoss:           req.StopLoss,
		TakeProfit:         req.TakeProfit,
	}

	start := r.Now()
	txHash, err := adapter.OpenPosition(ctx, open)
	latency := r.Now().Sub(start)
	r.observeLatency(q.Venue.VenueID, latency)

	if err != nil {
		r.Metrics.Execution(string(q.Venue.Kind), "error")
		r.logger.WarnContext(ctx, "venue execution failed",
			slog.String("venue", q.Venue.VenueID),
			slog.String("pair", req.Pair),
			slog.String("error", err.Error()),
		)
		r.publish(ctx, r.outcomeTask("", q.Venue.VenueID, false, req.SizeUsd, latency))
		return domain.TradeResult{}, fmt.Errorf("router: open on %s: %w: %w", q.Venue.VenueID, domain.ErrVenueExecution, err)
	}

	trade := domain.Trade{
		ID:               r.NewID(),
		UserAddress:      req.UserAddress,
		VenueID:          q.Venue.VenueID,
		Pair:             open.Pair,
		Side:             pq.side,
		Leverage:         req.Leverage,
		SizeUsd:          req.SizeUsd,
		EntryPrice:       q.ExpectedPrice,
		LiquidationPrice: q.LiquidationPrice,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		TxHashOpen:       txHash,
		Status:           domain.TradeStatusOpen,
		Metadata: map[string]any{
			metaVenueKind:   string(q.Venue.Kind),
			metaVenueName:   q.Venue.VenueName,
			metaPriceSource: q.PriceSource,
			metaBasePrice:   q.BasePrice.String(),
			metaSlippage:    q.ExpectedSlippagePct.String(),
			metaFees:        q.TotalFees.String(),
			metaComposite:   q.Venue.CompositeScore,
			metaQuoteMs:     q.QuoteLatencyMs,
		},
		OpenedAt: r.Now().UTC(),
	}

	if err := r.Trades.Insert(ctx, trade); err != nil {
		r.Metrics.Execution(string(q.Venue.Kind), "unpersisted")
		return domain.TradeResult{}, r.reconcile(ctx, trade, txHash, err)
	}
	r.Metrics.Execution(string(q.Venue.Kind), "ok")

	r.logger.InfoContext(ctx, "trade executed",
		slog.String("trade_id", trade.ID),
		slog.String("venue", trade.VenueID),
		slog.String("pair", trade.Pair),
		slog.String("side", string(trade.Side)),
		slog.String("size_usd", trade.SizeUsd.String()),
		slog.String("tx_hash", txHash),
	)
	r.audit(ctx, "trade_executed", map[string]any{
		"trade_id": trade.ID,
		"venue_id": trade.VenueID,
		"user":     trade.UserAddress,
		"pair":     trade.Pair,
		"side":     string(trade.Side),
		"size_usd": trade.SizeUsd.String(),
		"tx_hash":  txHash,
	})

	r.publish(ctx, r.outcomeTask(trade.ID, trade.VenueID, true, trade.SizeUsd, latency))
	if trade.SizeUsd.GreaterThanOrEqual(r.cfg.ValidationThresholdUsd) {
		r.publish(ctx, r.validationTask(trade))
	}
	if r.cfg.HighValueAlertUsd.IsPositive() && trade.SizeUsd.GreaterThanOrEqual(r.cfg.HighValueAlertUsd) {
		r.alert(ctx, notify.EventHighValueTrade, "High value trade",
			fmt.Sprintf("%s %s %s USD on %s (trade %s)", trade.Side, trade.Pair, trade.SizeUsd, trade.VenueID, trade.ID))
	}

	return domain.TradeResult{Trade: trade, Quote: q}, nil
}

// ClosePosition closes an open trade owned by userAddress at the current
// aggregated price. Unknown, foreign and already closed trades all return
// ErrPositionNotFound.
func (r *Router) ClosePosition(ctx context.Context, tradeID, userAddress string) (domain.CloseResult, error) {
	if r.Locks != nil {
		unlock, err := r.Locks.Acquire(ctx, "trade:"+tradeID, r.cfg.CloseLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return domain.CloseResult{}, fmt.Errorf("router: close %s: %w", tradeID, err)
		case err != nil:
			// The guarded update still prevents a double close.
			r.logger.WarnContext(ctx, "close lock unavailable",
				slog.String("trade_id", tradeID),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	trade, err := r.Trades.GetByID(ctx, tradeID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CloseResult{}, fmt.Errorf("router: close %s: %w", tradeID, domain.ErrPositionNotFound)
	}
	if err != nil {
		return domain.CloseResult{}, fmt.Errorf("router: load trade %s: %w", tradeID, err)
	}
	if !strings.EqualFold(trade.UserAddress, userAddress) || trade.Status != domain.TradeStatusOpen {
		return domain.CloseResult{}, fmt.Errorf("router: close %s: %w", tradeID, domain.ErrPositionNotFound)
	}

	kind, err := r.venueKindOf(ctx, trade)
	if err != nil {
		return domain.CloseResult{}, err
	}
	adapter, err := r.Registry.Resolve(kind)
	if err != nil {
		return domain.CloseResult{}, fmt.Errorf("router: close %s: %w", tradeID, err)
	}

	base, _, err := domain.SplitPair(trade.Pair)
	if err != nil {
		return domain.CloseResult{}, err
	}
	isLong := trade.Side.IsLong()

	var (
		pos   *domain.Position
		price domain.AggregatedPrice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := adapter.GetPosition(gctx, trade.UserAddress, trade.Pair, isLong)
		if err != nil {
			return fmt.Errorf("router: get position on %s: %w", kind, err)
		}
		pos = p
		return nil
	})
	g.Go(func() error {
		price = r.Prices.GetAggregatedPrice(gctx, base)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.CloseResult{}, err
	}
	if pos == nil {
		return domain.CloseResult{}, fmt.Errorf("router: no %s position for trade %s: %w", kind, tradeID, domain.ErrPositionNotFound)
	}
	if !price.HasPrice() {
		return domain.CloseResult{}, fmt.Errorf("router: close %s: %w", tradeID, domain.ErrNoPriceAvailable)
	}

	start := r.Now()
	txHash, err := adapter.ClosePosition(ctx, domain.ClosePositionRequest{
		UserAddress:        trade.UserAddress,
		PositionKey:        pos.Key,
		Pair:               trade.Pair,
		IsLong:             isLong,
		SizeUsd:            trade.SizeUsd,
		AcceptableSlippage: r.cfg.DefaultSlippagePct,
		CurrentPrice:       price.BestPrice,
	})
	latency := r.Now().Sub(start)
	r.observeLatency(trade.VenueID, latency)

	if err != nil {
		r.Metrics.Close(string(kind), "error")
		r.publish(ctx, r.outcomeTask(trade.ID, trade.VenueID, false, decimal.Zero, latency))
		return domain.CloseResult{}, fmt.Errorf("router: close on %s: %w: %w", kind, domain.ErrVenueExecution, err)
	}

	exit := price.BestPrice
	pnl := PnL(trade.EntryPrice, exit, trade.SizeUsd, isLong)
	closedAt := r.Now().UTC()

	err = r.Trades.Close(ctx, trade.ID, domain.TradeClose{
		ExitPrice:   exit,
		PnlUsd:      pnl,
		TxHashClose: txHash,
		ClosedAt:    closedAt,
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Closed concurrently between our read and the guarded update.
		r.Metrics.Close(string(kind), "conflict")
		return domain.CloseResult{}, fmt.Errorf("router: close %s: %w", tradeID, domain.ErrPositionNotFound)
	}
	if err != nil {
		r.Metrics.Close(string(kind), "unpersisted")
		trade.Status = domain.TradeStatusClosed
		trade.ExitPrice, trade.PnlUsd, trade.TxHashClose, trade.ClosedAt = &exit, &pnl, &txHash, &closedAt
		return domain.CloseResult{}, r.reconcile(ctx, trade, txHash, err)
	}
	r.Metrics.Close(string(kind), "ok")

	r.logger.InfoContext(ctx, "position closed",
		slog.String("trade_id", trade.ID),
		slog.String("venue", trade.VenueID),
		slog.String("exit_price", exit.String()),
		slog.String("pnl_usd", pnl.String()),
	)
	r.audit(ctx, "trade_closed", map[string]any{
		"trade_id":   trade.ID,
		"venue_id":   trade.VenueID,
		"exit_price": exit.String(),
		"pnl_usd":    pnl.String(),
		"tx_hash":    txHash,
	})
	r.publish(ctx, r.outcomeTask(trade.ID, trade.VenueID, true, decimal.Zero, latency))
	r.alert(ctx, notify.EventTradeClosed, "Position closed",
		fmt.Sprintf("%s %s closed at %s, pnl %s USD (trade %s)", trade.Side, trade.Pair, exit, pnl, trade.ID))

	return domain.CloseResult{
		TradeID:     trade.ID,
		ExitPrice:   exit,
		PnlUsd:      pnl,
		TxHashClose: txHash,
	}, nil
}

// venueKindOf resolves the adapter kind a trade was executed on.
func (r *Router) venueKindOf(ctx context.Context, trade domain.Trade) (domain.VenueKind, error) {
	if s, ok := trade.Metadata[metaVenueKind].(string); ok && s != "" {
		return domain.ParseVenueKind(s)
	}
	v, err := r.Venues.GetByID(ctx, trade.VenueID)
	if err != nil {
		return "", fmt.Errorf("router: resolve venue %s: %w", trade.VenueID, err)
	}
	return v.Kind, nil
}

// reconcile handles a venue action that succeeded without a local record.
// It never returns nil.
func (r *Router) reconcile(ctx context.Context, trade domain.Trade, txHash string, storeErr error) error {
	r.Metrics.ReconciliationGap()
	r.logger.ErrorContext(ctx, "trade executed but not persisted",
		slog.String("trade_id", trade.ID),
		slog.String("venue", trade.VenueID),
		slog.String("user", trade.UserAddress),
		slog.String("tx_hash", txHash),
		slog.String("error", storeErr.Error()),
	)

	if r.Reconciliation != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PublishTimeout)
		err := r.Reconciliation.Record(rctx, domain.ReconciliationEntry{
			TradeID:     trade.ID,
			VenueID:     trade.VenueID,
			UserAddress: trade.UserAddress,
			TxHash:      txHash,
			Trade:       trade,
			Error:       storeErr.Error(),
			RecordedAt:  r.Now().UTC(),
		})
		cancel()
		if err != nil {
			r.logger.ErrorContext(ctx, "reconciliation record failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.alert(ctx, notify.EventReconciliationGap, "Reconciliation required",
		fmt.Sprintf("trade %s on %s (tx %s) is not in the trade store: %v", trade.ID, trade.VenueID, txHash, storeErr))

	return &domain.ReconciliationError{
		TradeID: trade.ID,
		VenueID: trade.VenueID,
		TxHash:  txHash,
		Err:     storeErr,
	}
}

func (r *Router) outcomeTask(tradeID, venueID string, success bool, sizeUsd decimal.Decimal, latency time.Duration) domain.Task {
	return domain.Task{
		ID:        r.NewID(),
		Kind:      domain.TaskReputation,
		TradeID:   tradeID,
		VenueID:   venueID,
		Success:   success,
		SizeUsd:   sizeUsd,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: r.Now().UTC(),
	}
}

// validationPayload is what the validation endpoint receives.
type validationPayload struct {
	TradeID     string          `json:"trade_id"`
	VenueID     string          `json:"venue_id"`
	UserAddress string          `json:"user_address"`
	Pair        string          `json:"pair"`
	Side        domain.Side     `json:"side"`
	Leverage    int             `json:"leverage"`
	SizeUsd     decimal.Decimal `json:"size_usd"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	TxHash      string          `json:"tx_hash"`
	OpenedAt    time.Time       `json:"opened_at"`
}

func (r *Router) validationTask(t domain.Trade) domain.Task {
	payload, _ := json.Marshal(validationPayload{
		TradeID:     t.ID,
		VenueID:     t.VenueID,
		UserAddress: t.UserAddress,
		Pair:        t.Pair,
		Side:        t.Side,
		Leverage:    t.Leverage,
		SizeUsd:     t.SizeUsd,
		EntryPrice:  t.EntryPrice,
		TxHash:      t.TxHashOpen,
		OpenedAt:    t.OpenedAt,
	})
	return domain.Task{
		ID:        r.NewID(),
		Kind:      domain.TaskValidation,
		TradeID:   t.ID,
		VenueID:   t.VenueID,
		Success:   true,
		SizeUsd:   t.SizeUsd,
		Payload:   payload,
		CreatedAt: r.Now().UTC(),
	}
}

// publish hands a task to the queue without letting a failure reach the
// caller.
func (r *Router) publish(ctx context.Context, task domain.Task) {
	if r.Tasks == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PublishTimeout)
	defer cancel()
	if err := r.Tasks.Publish(pctx, task); err != nil {
		r.Metrics.Task(string(task.Kind), "publish", "error")
		r.logger.WarnContext(ctx, "task publish failed",
			slog.String("kind", string(task.Kind)),
			slog.String("trade_id", task.TradeID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.Metrics.Task(string(task.Kind), "publish", "ok")
}

func (r *Router) audit(ctx context.Context, event string, detail map[string]any) {
	if r.Audit == nil {
		return
	}
	if err := r.Audit.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// alert notifies operators in the background.
func (r *Router) alert(ctx context.Context, event, title, message string) {
	if r.Alerts == nil {
		return
	}
	actx := context.WithoutCancel(ctx)
	go func() {
		actx, cancel := context.WithTimeout(actx, alertTimeout)
		defer cancel()
		if err := r.Alerts.Notify(actx, event, title, message); err != nil {
			r.logger.WarnContext(actx, "alert failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (r *Router) observeLatency(venueID string, d time.Duration) {
	if r.Latency != nil {
		r.Latency.Observe(venueID, d)
	}
}
