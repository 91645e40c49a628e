package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRouter struct {
	quoteReq  domain.QuoteRequest
	tradeReq  domain.TradeRequest
	closeID   string
	closeUser string
	sortBy    domain.VenueSortKey
	limit     int
	err       error
}

func (f *fakeRouter) GetQuote(_ context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	f.quoteReq = req
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	return domain.Quote{
		Venue:         domain.VenueScore{VenueID: "gmx", Kind: domain.VenueGMX},
		PriceSource:   "pyth",
		BasePrice:     decimal.RequireFromString("100"),
		ExpectedPrice: decimal.RequireFromString("100.1"),
	}, nil
}

func (f *fakeRouter) ExecuteTrade(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	f.tradeReq = req
	if f.err != nil {
		return domain.TradeResult{}, f.err
	}
	return domain.TradeResult{Trade: domain.Trade{ID: "t-1", UserAddress: req.UserAddress}}, nil
}

func (f *fakeRouter) ClosePosition(_ context.Context, id, user string) (domain.CloseResult, error) {
	f.closeID, f.closeUser = id, user
	if f.err != nil {
		return domain.CloseResult{}, f.err
	}
	return domain.CloseResult{TradeID: id, TxHashClose: "0xclose"}, nil
}

func (f *fakeRouter) GetVenues(_ context.Context, sortBy domain.VenueSortKey, limit int) ([]domain.VenueInfo, error) {
	f.sortBy, f.limit = sortBy, limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.VenueInfo{{ID: "gmx", Name: "GMX"}}, nil
}

type fakeLister struct {
	user string
	opts domain.ListOpts
}

func (f *fakeLister) ListByUser(_ context.Context, user string, opts domain.ListOpts) ([]domain.Trade, error) {
	f.user, f.opts = user, opts
	return nil, nil
}

func post(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestQuote(t *testing.T) {
	r := &fakeRouter{}
	h := NewTradeHandler(r, nil, discard)

	rec := post(t, h.Quote, `{"pair":"BTC-USD","side":"long","leverage":5,"size_usd":"1000"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC-USD", r.quoteReq.Pair)
	assert.True(t, r.quoteReq.SizeUsd.Equal(decimal.NewFromInt(1000)))
	body := decodeBody(t, rec)
	assert.Equal(t, "pyth", body["price_source"])
}

func TestQuoteRejectsBadBodies(t *testing.T) {
	h := NewTradeHandler(&fakeRouter{}, nil, discard)

	for name, body := range map[string]string{
		"malformed":     `{"pair":`,
		"unknown field": `{"pair":"BTC-USD","bogus":1}`,
		"two objects":   `{"pair":"BTC-USD"}{"pair":"ETH-USD"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h.Quote, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExecuteCreated(t *testing.T) {
	r := &fakeRouter{}
	h := NewTradeHandler(r, nil, discard)

	rec := post(t, h.Execute, `{"pair":"ETH-USD","side":"short","leverage":2,"size_usd":50,"user_address":"0xabc","stop_loss":"1800"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0xabc", r.tradeReq.UserAddress)
	require.NotNil(t, r.tradeReq.StopLoss)
	assert.Equal(t, "1800", r.tradeReq.StopLoss.String())
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidRequest), http.StatusBadRequest},
		{domain.ErrPositionNotFound, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrSlippageExceeded, http.StatusUnprocessableEntity},
		{domain.ErrUnknownVenue, http.StatusUnprocessableEntity},
		{domain.ErrVenueExecution, http.StatusBadGateway},
		{domain.ErrNoPriceAvailable, http.StatusServiceUnavailable},
		{domain.ErrSourceUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := NewTradeHandler(&fakeRouter{err: tc.err}, nil, discard)
			rec := post(t, h.Execute, `{"pair":"BTC-USD"}`)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h := NewTradeHandler(&fakeRouter{err: errors.New("dial tcp 10.0.0.5:5432: refused")}, nil, discard)

	rec := post(t, h.Quote, `{"pair":"BTC-USD"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestReconciliationErrorCarriesTrade(t *testing.T) {
	recErr := &domain.ReconciliationError{TradeID: "t-9", VenueID: "gmx", TxHash: "0xdead", Err: errors.New("db down")}
	h := NewTradeHandler(&fakeRouter{err: recErr}, nil, discard)

	rec := post(t, h.Execute, `{"pair":"BTC-USD"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "t-9", body["trade_id"])
	assert.Equal(t, "0xdead", body["tx_hash"])
	assert.Equal(t, true, body["reconciliation_required"])
}

func TestClose(t *testing.T) {
	r := &fakeRouter{}
	h := NewTradeHandler(r, nil, discard)

	req := httptest.NewRequest(http.MethodPost, "/api/trades/t-1/close", strings.NewReader(`{"user_address":"0xabc"}`))
	req.SetPathValue("id", "t-1")
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t-1", r.closeID)
	assert.Equal(t, "0xabc", r.closeUser)
	assert.Equal(t, "0xclose", decodeBody(t, rec)["tx_hash_close"])
}

func TestCloseRequiresUser(t *testing.T) {
	h := NewTradeHandler(&fakeRouter{}, nil, discard)

	req := httptest.NewRequest(http.MethodPost, "/api/trades/t-1/close", strings.NewReader(`{}`))
	req.SetPathValue("id", "t-1")
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListVenues(t *testing.T) {
	r := &fakeRouter{}
	h := NewTradeHandler(r, nil, discard)

	rec := httptest.NewRecorder()
	h.ListVenues(rec, httptest.NewRequest(http.MethodGet, "/api/venues?sort_by=Fee&limit=3", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SortByFee, r.sortBy)
	assert.Equal(t, 3, r.limit)

	for _, q := range []string{"sort_by=age", "limit=ten"} {
		rec := httptest.NewRecorder()
		h.ListVenues(rec, httptest.NewRequest(http.MethodGet, "/api/venues?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestListTrades(t *testing.T) {
	lister := &fakeLister{}
	h := NewTradeHandler(&fakeRouter{}, lister, discard)

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?user_address=0xabc&limit=900&offset=4", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", lister.user)
	assert.Equal(t, 500, lister.opts.Limit)
	assert.Equal(t, 4, lister.opts.Offset)
	assert.JSONEq(t, `{"trades":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}, discard)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "down"}, body["dependencies"])

	rec = httptest.NewRecorder()
	NewHealthHandler(nil, discard).HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
