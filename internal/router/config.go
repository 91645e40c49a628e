package router

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlippageBucket applies Pct (a percentage, 0.2 = 0.2%) to trades whose size
// is strictly below UpTo. A zero UpTo matches every size.
type SlippageBucket struct {
	UpTo decimal.Decimal
	Pct  decimal.Decimal
}

// Config holds the router's economic and operational parameters.
type Config struct {
	MaxLeverage int

	SlippageBuckets    []SlippageBucket
	MaintenanceMargin  decimal.Decimal // fraction, 0.1 = 10%
	FeeRate            decimal.Decimal // fraction of notional, 0.001 = 0.1%
	DefaultSlippagePct decimal.Decimal // acceptable slippage when the caller sets none

	ValidationThresholdUsd decimal.Decimal // trades at or above this request validation
	HighValueAlertUsd      decimal.Decimal // trades at or above this trigger an alert; zero disables

	CloseLockTTL   time.Duration
	PublishTimeout time.Duration

	DefaultVenueLimit int
	MaxVenueLimit     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxLeverage: 100,
		SlippageBuckets: []SlippageBucket{
			{UpTo: decimal.NewFromInt(10_000), Pct: decimal.RequireFromString("0.2")},
			{UpTo: decimal.NewFromInt(50_000), Pct: decimal.RequireFromString("0.5")},
			{UpTo: decimal.NewFromInt(250_000), Pct: decimal.RequireFromString("1.0")},
			{Pct: decimal.RequireFromString("2.0")},
		},
		MaintenanceMargin:      decimal.RequireFromString("0.1"),
		FeeRate:                decimal.RequireFromString("0.001"),
		DefaultSlippagePct:     decimal.RequireFromString("1.0"),
		ValidationThresholdUsd: decimal.NewFromInt(10_000),
		HighValueAlertUsd:      decimal.NewFromInt(100_000),
		CloseLockTTL:           30 * time.Second,
		PublishTimeout:         2 * time.Second,
		DefaultVenueLimit:      10,
		MaxVenueLimit:          100,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = d.MaxLeverage
	}
	if len(c.SlippageBuckets) == 0 {
		c.SlippageBuckets = d.SlippageBuckets
	}
	if !c.MaintenanceMargin.IsPositive() {
		c.MaintenanceMargin = d.MaintenanceMargin
	}
	if !c.FeeRate.IsPositive() {
		c.FeeRate = d.FeeRate
	}
	if !c.DefaultSlippagePct.IsPositive() {
		c.DefaultSlippagePct = d.DefaultSlippagePct
	}
	if !c.ValidationThresholdUsd.IsPositive() {
		c.ValidationThresholdUsd = d.ValidationThresholdUsd
	}
	if c.CloseLockTTL <= 0 {
		c.CloseLockTTL = d.CloseLockTTL
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.DefaultVenueLimit <= 0 {
		c.DefaultVenueLimit = d.DefaultVenueLimit
	}
	if c.MaxVenueLimit <= 0 {
		c.MaxVenueLimit = d.MaxVenueLimit
	}
	return c
}
