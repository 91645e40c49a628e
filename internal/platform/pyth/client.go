// Package pyth is a minimal client for the Pyth Hermes price service.
package pyth

import (
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

// DefaultBaseURL is the public Hermes endpoint.
const DefaultBaseURL = "https://hermes.pyth.network"

// Client reads the latest parsed price updates from Hermes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Hermes client. timeout applies to each HTTP request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type priceData struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type parsedUpdate struct {
	ID    string    `json:"id"`
	Price priceData `json:"price"`
}

type latestResponse struct {
	Parsed []parsedUpdate `json:"parsed"`
}

// LatestPrice returns price*10^expo and the publish time for one feed id.
func (c *Client) LatestPrice(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error) {
	id := normaliseFeedID(feedID)
	params := url.Values{}
	params.Add("ids[]", id)
	params.Set("parsed", "true")

	body, err := c.doGet(ctx, "/v2/updates/price/latest?"+params.Encode())
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("pyth: latest price %s: %w", feedID, err)
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("pyth: decode latest price: %w", err)
	}

	for _, u := range resp.Parsed {
		if normaliseFeedID(u.ID) != id {
			continue
		}
		raw, err := decimal.NewFromString(u.Price.Price)
		if err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("pyth: parse price %q: %w", u.Price.Price, err)
		}
		return raw.Shift(u.Price.Expo), time.Unix(u.Price.PublishTime, 0).UTC(), nil
	}
	return decimal.Zero, time.Time{}, fmt.Errorf("pyth: feed %s: %w", feedID, domain.ErrNoData)
}

// normaliseFeedID lowercases id and strips any 0x prefix. Hermes accepts
// both forms but answers with the bare one.
func normaliseFeedID(id string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

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
