package engine

import (
	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PnL is the result of closing a position, fees included.
type PnL struct {
	Raw     decimal.Decimal // price move * volume, sign by side
	Fees    decimal.Decimal // entry + exit fees
	Net     decimal.Decimal
	Percent decimal.Decimal // net relative to entry notional, in percent
}

// ComputePnL calculates the realized result of a round trip.
// Raw is (exit-entry)*volume for longs and negated for shorts; fees are
// charged on both the entry and exit notionals at feeRate.
func ComputePnL(side domain.OrderSide, entry, exit, volume, feeRate decimal.Decimal) PnL {
	raw := exit.Sub(entry).Mul(volume)
	if side == domain.SideSell {
		raw = raw.Neg()
	}

	entryNotional := entry.Mul(volume)
	exitNotional := exit.Mul(volume)
	fees := entryNotional.Mul(feeRate).Add(exitNotional.Mul(feeRate))

	net := raw.Sub(fees)

	pct := decimal.Zero
	if entryNotional.Sign() > 0 {
		pct = net.Div(entryNotional).Mul(hundred)
	}

	return PnL{Raw: raw, Fees: fees, Net: net, Percent: pct}
}

// CostPreview is the projected cost of an order before placement.
type CostPreview struct {
	Base  decimal.Decimal // volume * price
	Fee   decimal.Decimal // base * feeRate
	Total decimal.Decimal
}

// PreviewCost projects the cost of an order at the given fee rate.
func PreviewCost(volume, price, feeRate decimal.Decimal) CostPreview {
	base := volume.Mul(price)
	fee := base.Mul(feeRate)
	return CostPreview{Base: base, Fee: fee, Total: base.Add(fee)}
}
