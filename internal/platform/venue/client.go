// Package venue talks to perpetual venue gateways. Each gateway fronts one
// on-chain venue (Moonlander, GMX, Avantis) behind the same REST contract and
// owns signing and broadcasting; this client only sees transaction hashes.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/crypto"
	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/platform"
)

// Config configures one gateway client.
type Config struct {
	Kind    domain.VenueKind
	BaseURL string
	Auth    *crypto.HMACAuth // nil disables request signing
	Timeout time.Duration
}

// Client implements domain.VenueAdapter over a gateway's REST API.
type Client struct {
	kind       domain.VenueKind
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		kind:       cfg.Kind,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       cfg.Auth,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Kind returns the venue this client executes on.
func (c *Client) Kind() domain.VenueKind { return c.kind }

type openRequest struct {
	User               string           `json:"user"`
	Pair               string           `json:"pair"`
	IsLong             bool             `json:"is_long"`
	CollateralUsd      decimal.Decimal  `json:"collateral_usd"`
	SizeUsd            decimal.Decimal  `json:"size_usd"`
	Leverage           int              `json:"leverage"`
	AcceptablePrice    decimal.Decimal  `json:"acceptable_price"`
	AcceptableSlippage decimal.Decimal  `json:"acceptable_slippage_pct"`
	StopLoss           *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit         *decimal.Decimal `json:"take_profit,omitempty"`
}

type closeRequest struct {
	User               string          `json:"user"`
	PositionKey        string          `json:"position_key"`
	Pair               string          `json:"pair"`
	IsLong             bool            `json:"is_long"`
	SizeUsd            decimal.Decimal `json:"size_usd"`
	AcceptableSlippage decimal.Decimal `json:"acceptable_slippage_pct"`
	CurrentPrice       decimal.Decimal `json:"current_price"`
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
}

type positionResponse struct {
	Key        string          `json:"key"`
	Pair       string          `json:"pair"`
	IsLong     bool            `json:"is_long"`
	SizeUsd    decimal.Decimal `json:"size_usd"`
	Collateral decimal.Decimal `json:"collateral_usd"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

type priceResponse struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix ms
}

// OpenPosition submits an open order and returns the transaction hash.
func (c *Client) OpenPosition(ctx context.Context, req domain.OpenPositionRequest) (string, error) {
	body := openRequest{
		User:               req.UserAddress,
		Pair:               req.Pair,
		IsLong:             req.IsLong,
		CollateralUsd:      req.CollateralUsd,
		SizeUsd:            req.SizeUsd,
		Leverage:           req.Leverage,
		AcceptablePrice:    req.AcceptablePrice,
		AcceptableSlippage: req.AcceptableSlippage,
		StopLoss:           req.StopLoss,
		TakeProfit:         req.TakeProfit,
	}
	var resp txResponse
	if err := c.do(ctx, http.MethodPost, "/v1/positions/open", body, &resp); err != nil {
		return "", fmt.Errorf("venue/%s: open position: %w", c.kind, err)
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("venue/%s: open position: empty tx hash", c.kind)
	}
	return resp.TxHash, nil
}

// ClosePosition submits a close order and returns the transaction hash.
func (c *Client) ClosePosition(ctx context.Context, req domain.ClosePositionRequest) (string, error) {
	body := closeRequest{
		User:               req.UserAddress,
		PositionKey:        req.PositionKey,
		Pair:               req.Pair,
		IsLong:             req.IsLong,
		SizeUsd:            req.SizeUsd,
		AcceptableSlippage: req.AcceptableSlippage,
		CurrentPrice:       req.CurrentPrice,
	}
	var resp txResponse
	if err := c.do(ctx, http.MethodPost, "/v1/positions/close", body, &resp); err != nil {
		return "", fmt.Errorf("venue/%s: close position: %w", c.kind, err)
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("venue/%s: close position: empty tx hash", c.kind)
	}
	return resp.TxHash, nil
}

// GetPosition returns the user's position, or nil when the gateway has none.
func (c *Client) GetPosition(ctx context.Context, userAddress, pair string, isLong bool) (*domain.Position, error) {
	side := string(domain.SideShort)
	if isLong {
		side = string(domain.SideLong)
	}
	params := url.Values{}
	params.Set("user", userAddress)
	params.Set("pair", pair)
	params.Set("side", side)

	var resp positionResponse
	err := c.do(ctx, http.MethodGet, "/v1/positions?"+params.Encode(), nil, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("venue/%s: get position: %w", c.kind, err)
	}
	if resp.Key == "" {
		return nil, nil
	}
	return &domain.Position{
		Key:        resp.Key,
		Pair:       resp.Pair,
		IsLong:     resp.IsLong,
		SizeUsd:    resp.SizeUsd,
		Collateral: resp.Collateral,
		EntryPrice: resp.EntryPrice,
	}, nil
}

// MarkPrice returns the venue's own mark price for pair.
func (c *Client) MarkPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error) {
	var resp priceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/prices/"+url.PathEscape(pair), nil, &resp); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("venue/%s: mark price %s: %w", c.kind, pair, err)
	}
	return resp.Price, time.UnixMilli(resp.Timestamp).UTC(), nil
}

// do sends a (signed) JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := platform.CheckHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Client)(nil)
