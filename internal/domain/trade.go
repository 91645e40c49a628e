package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts "long" or "short" in any case.
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToLower(strings.TrimSpace(s))); side {
	case SideLong, SideShort:
		return side, nil
	default:
		return "", fmt.Errorf("%w: side must be long or short, got %q", ErrInvalidRequest, s)
	}
}

// IsLong reports whether the side is long.
func (s Side) IsLong() bool { return s == SideLong }

// TradeStatus is the lifecycle state of a Trade. The only transition is
// open -> closed.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is a persisted leveraged position opened through the router.
type Trade struct {
	ID               string           `json:"id"`
	UserAddress      string           `json:"user_address"`
	VenueID          string           `json:"venue_id"`
	Pair             string           `json:"pair"`
	Side             Side             `json:"side"`
	Leverage         int              `json:"leverage"`
	SizeUsd          decimal.Decimal  `json:"size_usd"`
	EntryPrice       decimal.Decimal  `json:"entry_price"`
	LiquidationPrice decimal.Decimal  `json:"liquidation_price"`
	StopLoss         *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit       *decimal.Decimal `json:"take_profit,omitempty"`
	TxHashOpen       string           `json:"tx_hash_open"`
	Status           TradeStatus      `json:"status"`
	ExitPrice        *decimal.Decimal `json:"exit_price,omitempty"`
	PnlUsd           *decimal.Decimal `json:"pnl_usd,omitempty"`
	TxHashClose      *string          `json:"tx_hash_close,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	OpenedAt         time.Time        `json:"opened_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
}

// TradeClose carries the fields written when a trade is closed.
type TradeClose struct {
	ExitPrice   decimal.Decimal
	PnlUsd      decimal.Decimal
	TxHashClose string
	ClosedAt    time.Time
}

// QuoteRequest describes the position a caller wants priced.
type QuoteRequest struct {
	Pair           string           `json:"pair"`
	Side           Side             `json:"side"`
	Leverage       int              `json:"leverage"`
	SizeUsd        decimal.Decimal  `json:"size_usd"`
	MaxSlippagePct *decimal.Decimal `json:"max_slippage_pct,omitempty"`
}

// TradeRequest is a QuoteRequest plus the owner and optional exit levels.
type TradeRequest struct {
	QuoteRequest
	UserAddress string           `json:"user_address"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
}

// Quote is an indicative execution on the best venue. Quotes are not stored.
type Quote struct {
	Venue               VenueScore      `json:"venue"`
	PriceSource         string          `json:"price_source"`
	BasePrice           decimal.Decimal `json:"base_price"`
	ExpectedPrice       decimal.Decimal `json:"expected_price"`
	ExpectedSlippagePct decimal.Decimal `json:"expected_slippage_pct"`
	LiquidationPrice    decimal.Decimal `json:"liquidation_price"`
	TotalFees           decimal.Decimal `json:"total_fees"`
	QuoteLatencyMs      int64           `json:"quote_latency_ms"`
}

// TradeResult is returned by a successful execution.
type TradeResult struct {
	Trade Trade `json:"trade"`
	Quote Quote `json:"quote"`
}

// CloseResult is returned by a successful close.
type CloseResult struct {
	TradeID     string          `json:"trade_id"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	PnlUsd      decimal.Decimal `json:"pnl_usd"`
	TxHashClose string          `json:"tx_hash_close"`
}

// SplitPair splits "BTC-USD" into ("BTC", "USD"). A pair without a quote
// currency is treated as quoted in USD.
func SplitPair(pair string) (base, quote string, err error) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	if p == "" {
		return "", "", fmt.Errorf("%w: empty pair", ErrInvalidRequest)
	}
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '-' || r == '/' })
	switch len(parts) {
	case 1:
		return parts[0], "USD", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%w: malformed pair %q", ErrInvalidRequest, pair)
	}
}
