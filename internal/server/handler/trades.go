package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// TradeRouter is the part of the router exposed over HTTP.
type TradeRouter interface {
	GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error)
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
	ClosePosition(ctx context.Context, tradeID, userAddress string) (domain.CloseResult, error)
	GetVenues(ctx context.Context, sortBy domain.VenueSortKey, limit int) ([]domain.VenueInfo, error)
}

// TradeLister lists a user's trades.
type TradeLister interface {
	ListByUser(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves quote, trade and venue endpoints.
type TradeHandler struct {
	router TradeRouter
	trades TradeLister
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. trades may be nil, which disables
// trade listing.
func NewTradeHandler(router TradeRouter, trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		router: router,
		trades: trades,
		logger: logHandler(logger, "trades"),
	}
}

// Quote prices a trade on the best venue without executing it.
// POST /api/quote
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	q, err := h.router.GetQuote(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Execute opens a position.
// POST /api/trades
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.TradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	res, err := h.router.ExecuteTrade(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type closeRequest struct {
	UserAddress string `json:"user_address"`
}

// Close closes an open position owned by the caller.
// POST /api/trades/{id}/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}
	var req closeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if req.UserAddress == "" {
		writeError(w, http.StatusBadRequest, "user_address is required")
		return
	}

	res, err := h.router.ClosePosition(r.Context(), id, req.UserAddress)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListTrades returns a user's trades, newest first.
// GET /api/trades?user_address=&limit=&offset=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeError(w, http.StatusNotImplemented, "trade listing disabled")
		return
	}
	user := r.URL.Query().Get("user_address")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_address is required")
		return
	}
	trades, err := h.trades.ListByUser(r.Context(), user, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListVenues lists active venues.
// GET /api/venues?sort_by=&limit=
func (h *TradeHandler) ListVenues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy, err := domain.ParseVenueSortKey(q.Get("sort_by"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeDomainError(w, r, h.logger, fmt.Errorf("%w: limit %q", domain.ErrInvalidRequest, v))
			return
		}
		limit = n
	}

	venues, err := h.router.GetVenues(r.Context(), sortBy, limit)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": venues})
}
