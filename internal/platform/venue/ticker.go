package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

type subscribeCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Pairs   []string `json:"pairs"`
}

type tickerMessage struct {
	Type      string          `json:"type"`
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"ts"` // unix ms
}

type tick struct {
	price decimal.Decimal
	at    time.Time
}

// Ticker keeps the latest mark price per pair from a gateway's websocket
// ticker channel. Reads never block on the connection.
type Ticker struct {
	url    string
	pairs  []string
	logger *slog.Logger

	mu   sync.RWMutex
	last map[string]tick
}

// NewTicker creates a Ticker for the given pairs. Call Run to connect.
func NewTicker(wsURL string, pairs []string, logger *slog.Logger) *Ticker {
	return &Ticker{
		url:    wsURL,
		pairs:  pairs,
		logger: logger.With(slog.String("component", "venue_ticker"), slog.String("url", wsURL)),
		last:   make(map[string]tick),
	}
}

// Latest returns the last tick for pair when it is younger than maxAge.
func (t *Ticker) Latest(pair string, maxAge time.Duration, now time.Time) (decimal.Decimal, time.Time, bool) {
	t.mu.RLock()
	tk, ok := t.last[pair]
	t.mu.RUnlock()
	if !ok || now.Sub(tk.at) > maxAge {
		return decimal.Zero, time.Time{}, false
	}
	return tk.price, tk.at, true
}

// backoff is the reconnect delay schedule: doubling from reconnectDelay up
// to maxReconnectDelay, back to the start after a healthy connection.
type backoff struct {
	cur time.Duration
}

func (b *backoff) next() time.Duration {
	d := b.cur
	if d <= 0 {
		d = reconnectDelay
	}
	b.cur = min(d*2, maxReconnectDelay)
	return d
}

func (b *backoff) reset() { b.cur = 0 }

// Run connects and keeps reconnecting with exponential backoff until ctx is
// cancelled. It always returns ctx.Err().
func (t *Ticker) Run(ctx context.Context) error {
	var bo backoff
	for {
		subscribed, err := t.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			bo.reset()
		}
		delay := bo.next()
		t.logger.WarnContext(ctx, "ticker disconnected",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("retry_in", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx ends. The bool reports
// whether the subscribe command reached the gateway.
func (t *Ticker) session(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(msgType, data)
	}

	sub, err := json.Marshal(subscribeCommand{Type: "subscribe", Channel: "ticker", Pairs: t.pairs})
	if err != nil {
		return false, fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	t.logger.InfoContext(ctx, "ticker connected", slog.Int("pairs", len(t.pairs)))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		t.handle(raw)
	}
}

func (t *Ticker) handle(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ticker" || msg.Pair == "" {
		return
	}
	if !msg.Price.IsPositive() {
		return
	}
	at := time.UnixMilli(msg.Timestamp).UTC()
	if msg.Timestamp == 0 {
		at = time.Now().UTC()
	}

	t.mu.Lock()
	if cur, ok := t.last[msg.Pair]; !ok || !at.Before(cur.at) {
		t.last[msg.Pair] = tick{price: msg.Price, at: at}
	}
	t.mu.Unlock()
}
