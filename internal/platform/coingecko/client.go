// Package coingecko reads spot prices from the CoinGecko simple price API.
// The public tier is tightly rate limited; callers should cache results and
// throttle requests.
package coingecko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/platform"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Client is a CoinGecko REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client. apiKey may be empty for the public tier; when
// set it is sent as a demo key header.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SimplePrice returns the price of coinID in vsCurrency (e.g. "bitcoin", "usd").
func (c *Client) SimplePrice(ctx context.Context, coinID, vsCurrency string) (decimal.Decimal, error) {
	vs := strings.ToLower(vsCurrency)
	params := url.Values{}
	params.Set("ids", coinID)
	params.Set("vs_currencies", vs)

	body, err := c.doGet(ctx, "/simple/price?"+params.Encode())
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: simple price %s: %w", coinID, err)
	}

	var resp map[string]map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: decode simple price: %w", err)
	}

	num, ok := resp[coinID][vs]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: %s/%s: %w", coinID, vs, domain.ErrNoData)
	}
	price, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: parse price %q: %w", num, err)
	}
	return price, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := platform.CheckHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
