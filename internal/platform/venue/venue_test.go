package venue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/crypto"
	"github.com/alanyoungcy/venuerouter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenPositionSignsRequest(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k1", Secret: "c2VjcmV0"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/positions/open", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.True(t, auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)))

		var got openRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "0xabc", got.User)
		assert.Equal(t, 5, got.Leverage)
		assert.True(t, decimal.NewFromInt(200).Equal(got.CollateralUsd))
		assert.Nil(t, got.StopLoss)

		_, _ = w.Write([]byte(`{"tx_hash":"0xdeadbeef"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Kind: domain.VenueGMX, BaseURL: srv.URL + "/", Auth: auth})
	tx, err := c.OpenPosition(context.Background(), domain.OpenPositionRequest{
		UserAddress:   "0xabc",
		Pair:          "BTC-USD",
		IsLong:        true,
		CollateralUsd: decimal.NewFromInt(200),
		SizeUsd:       decimal.NewFromInt(1000),
		Leverage:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", tx)
	assert.Equal(t, domain.VenueGMX, c.Kind())
}

func TestOpenPositionGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream revert"))
	}))
	defer srv.Close()

	_, err := NewClient(Config{Kind: domain.VenueAvantis, BaseURL: srv.URL}).
		OpenPosition(context.Background(), domain.OpenPositionRequest{Pair: "ETH-USD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestClosePositionEmptyHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/positions/close", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{Kind: domain.VenueGMX, BaseURL: srv.URL}).
		ClosePosition(context.Background(), domain.ClosePositionRequest{PositionKey: "p1"})
	assert.ErrorContains(t, err, "empty tx hash")
}

func TestGetPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user") == "0xnone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "short", q.Get("side"))
		assert.Equal(t, "ETH-USD", q.Get("pair"))
		_, _ = w.Write([]byte(`{"key":"pos-1","pair":"ETH-USD","is_long":false,"size_usd":"500","collateral_usd":"100","entry_price":"3000"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Kind: domain.VenueMoonlander, BaseURL: srv.URL})

	pos, err := c.GetPosition(context.Background(), "0xabc", "ETH-USD", false)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, "pos-1", pos.Key)
	assert.True(t, decimal.NewFromInt(3000).Equal(pos.EntryPrice))

	pos, err = c.GetPosition(context.Background(), "0xnone", "ETH-USD", false)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestMarkPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices/BTC-USD", r.URL.Path)
		_, _ = w.Write([]byte(`{"pair":"BTC-USD","price":"60010.5","timestamp":1700000000000}`))
	}))
	defer srv.Close()

	price, at, err := NewClient(Config{Kind: domain.VenueGMX, BaseURL: srv.URL}).
		MarkPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "60010.5", price.String())
	assert.Equal(t, int64(1700000000), at.Unix())
}

func TestTickerReceivesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeCommand, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd

		now := time.Now().UnixMilli()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteJSON(map[string]any{"type": "ticker", "pair": "BTC-USD", "price": "60100", "ts": now})
		_ = conn.WriteJSON(map[string]any{"type": "ticker", "pair": "ETH-USD", "price": "0", "ts": now})

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tk := NewTicker(wsURL, []string{"BTC-USD", "ETH-USD"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx) }()

	select {
	case cmd := <-subscribed:
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, "ticker", cmd.Channel)
		assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cmd.Pairs)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe command received")
	}

	require.Eventually(t, func() bool {
		_, _, ok := tk.Latest("BTC-USD", time.Minute, time.Now())
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	price, _, _ := tk.Latest("BTC-USD", time.Minute, time.Now())
	assert.Equal(t, "60100", price.String())

	_, _, ok := tk.Latest("ETH-USD", time.Minute, time.Now())
	assert.False(t, ok, "non-positive ticks are dropped")

	_, _, ok = tk.Latest("BTC-USD", time.Minute, time.Now().Add(2*time.Minute))
	assert.False(t, ok, "stale ticks are not served")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestTickerIgnoresOlderTick(t *testing.T) {
	tk := NewTicker("ws://unused", nil, testLogger())
	tk.handle([]byte(`{"type":"ticker","pair":"BTC-USD","price":"2","ts":2000}`))
	tk.handle([]byte(`{"type":"ticker","pair":"BTC-USD","price":"1","ts":1000}`))

	price, _, ok := tk.Latest("BTC-USD", time.Hour*24*365*100, time.UnixMilli(3000))
	require.True(t, ok)
	assert.Equal(t, "2", price.String())
}

func TestBackoffGrowsCapsAndResets(t *testing.T) {
	var bo backoff
	assert.Equal(t, reconnectDelay, bo.next())
	assert.Equal(t, 2*reconnectDelay, bo.next())
	for range 10 {
		bo.next()
	}
	assert.Equal(t, maxReconnectDelay, bo.next())

	bo.reset()
	assert.Equal(t, reconnectDelay, bo.next(), "a healthy connection restarts the schedule")
}

func TestSessionReportsSubscription(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var cmd subscribeCommand
		_ = conn.ReadJSON(&cmd)
		_ = conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	subscribed, err := NewTicker(wsURL, []string{"BTC-USD"}, testLogger()).session(context.Background())
	assert.Error(t, err)
	assert.True(t, subscribed)

	subscribed, err = NewTicker("ws://127.0.0.1:1", nil, testLogger()).session(context.Background())
	assert.Error(t, err)
	assert.False(t, subscribed)
}
