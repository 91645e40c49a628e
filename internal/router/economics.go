package router

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SlippagePct picks the bucket for sizeUsd. Buckets are checked in order.
func SlippagePct(buckets []SlippageBucket, sizeUsd decimal.Decimal) decimal.Decimal {
	for _, b := range buckets {
		if b.UpTo.IsZero() || sizeUsd.LessThan(b.UpTo) {
			return b.Pct
		}
	}
	if len(buckets) == 0 {
		return decimal.Zero
	}
	return buckets[len(buckets)-1].Pct
}

// AdversePrice moves base by pct percent against the trader: up for longs,
// down for shorts.
func AdversePrice(base, pct decimal.Decimal, isLong bool) decimal.Decimal {
	move := pct.Div(hundred)
	if isLong {
		return base.Mul(decimal.NewFromInt(1).Add(move))
	}
	return base.Mul(decimal.NewFromInt(1).Sub(move))
}

// LiquidationPrice is entry × (1 ∓ (1 − mm) / leverage): below entry for
// longs, above for shorts.
func LiquidationPrice(entry decimal.Decimal, leverage int, maintenanceMargin decimal.Decimal, isLong bool) decimal.Decimal {
	if leverage <= 0 {
		leverage = 1
	}
	dist := decimal.NewFromInt(1).Sub(maintenanceMargin).Div(decimal.NewFromInt(int64(leverage)))
	if isLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(dist))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(dist))
}

// Fees is a flat rate on notional.
func Fees(sizeUsd, rate decimal.Decimal) decimal.Decimal {
	return sizeUsd.Mul(rate)
}

// PnL is (exit − entry) × size / entry, negated for shorts.
func PnL(entry, exit, sizeUsd decimal.Decimal, isLong bool) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	pnl := exit.Sub(entry).Mul(sizeUsd).Div(entry)
	if !isLong {
		pnl = pnl.Neg()
	}
	return pnl.Round(8)
}
