package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/platform/evm"
)

// Source names used for registration, cache keys and metrics labels.
const (
	SourcePyth      = "pyth"
	SourceUniswap   = "uniswap"
	SourceChainlink = "chainlink"
	SourceCoinGecko = "coingecko"
)

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func unmapped(symbol string) error {
	return fmt.Errorf("no mapping for %q: %w", symbol, domain.ErrNoData)
}

// --- Oracle (Pyth Hermes) ---

type oracleClient interface {
	LatestPrice(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error)
}

// OracleFetcher reads a push oracle. Feeds maps symbol to feed id.
type OracleFetcher struct {
	Client oracleClient
	Feeds  map[string]string
}

// Fetch implements Fetcher.
func (f *OracleFetcher) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	id, ok := f.Feeds[normalize(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, unmapped(symbol)
	}
	return f.Client.LatestPrice(ctx, id)
}

// --- On-chain router (Uniswap V2 style) ---

type routerClient interface {
	SpotPrice(ctx context.Context, base, quote evm.Token) (decimal.Decimal, error)
}

// RouterFetcher quotes base tokens against a single quote token (a USD
// stablecoin) through a swap router.
type RouterFetcher struct {
	Router routerClient
	Tokens map[string]evm.Token
	Quote  evm.Token
	Now    func() time.Time
}

// Fetch implements Fetcher.
func (f *RouterFetcher) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	base, ok := f.Tokens[normalize(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, unmapped(symbol)
	}
	price, err := f.Router.SpotPrice(ctx, base, f.Quote)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	return price, nowOf(f.Now), nil
}

// --- Price feed contract (Chainlink) ---

type feedContract interface {
	LatestAnswer(ctx context.Context, feed common.Address) (decimal.Decimal, time.Time, error)
}

// FeedContractFetcher reads aggregator contracts. Rounds older than
// MaxStaleness are treated as missing.
type FeedContractFetcher struct {
	Contract     feedContract
	Feeds        map[string]common.Address
	MaxStaleness time.Duration
	Now          func() time.Time
}

// Fetch implements Fetcher.
func (f *FeedContractFetcher) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	feed, ok := f.Feeds[normalize(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, unmapped(symbol)
	}
	price, updatedAt, err := f.Contract.LatestAnswer(ctx, feed)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if f.MaxStaleness > 0 {
		if age := nowOf(f.Now).Sub(updatedAt); age > f.MaxStaleness {
			return decimal.Zero, time.Time{}, fmt.Errorf("round is %s old: %w", age.Truncate(time.Second), domain.ErrNoData)
		}
	}
	return price, updatedAt, nil
}

// --- External aggregator API (CoinGecko) ---

type aggregatorAPI interface {
	SimplePrice(ctx context.Context, coinID, vsCurrency string) (decimal.Decimal, error)
}

// AggregatorAPIFetcher reads a third-party price aggregator. IDs maps symbol
// to the aggregator's coin id.
type AggregatorAPIFetcher struct {
	Client     aggregatorAPI
	IDs        map[string]string
	VsCurrency string
	Now        func() time.Time
}

// Fetch implements Fetcher.
func (f *AggregatorAPIFetcher) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	id, ok := f.IDs[normalize(symbol)]
	if !ok {
		return decimal.Zero, time.Time{}, unmapped(symbol)
	}
	vs := f.VsCurrency
	if vs == "" {
		vs = "usd"
	}
	price, err := f.Client.SimplePrice(ctx, id, vs)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	return price, nowOf(f.Now), nil
}

// --- Venue native mark price ---

type markPricer interface {
	MarkPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error)
}

type tickSource interface {
	Latest(pair string, maxAge time.Duration, now time.Time) (decimal.Decimal, time.Time, bool)
}

// VenueFetcher reads a venue's own mark price. A fresh tick from the
// websocket stream wins; otherwise the gateway's REST endpoint is asked.
type VenueFetcher struct {
	Client  markPricer
	Ticker  tickSource // optional
	Quote   string     // quote currency of the pair, default USD
	MaxTick time.Duration
	Now     func() time.Time
}

// Fetch implements Fetcher.
func (f *VenueFetcher) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	quote := f.Quote
	if quote == "" {
		quote = "USD"
	}
	pair := normalize(symbol) + "-" + strings.ToUpper(quote)

	if f.Ticker != nil && f.MaxTick > 0 {
		if price, at, ok := f.Ticker.Latest(pair, f.MaxTick, nowOf(f.Now)); ok {
			return price, at, nil
		}
	}
	if f.Client == nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("no fresh tick for %s: %w", pair, domain.ErrNoData)
	}
	return f.Client.MarkPrice(ctx, pair)
}

func nowOf(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
