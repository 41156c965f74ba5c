package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position represents an open or closed trading position.
// Created when an opening fill is observed, closed by a matching closing fill.
type Position struct {
	ID          string          `json:"id"`
	Pair        string          `json:"pair"`
	Side        OrderSide       `json:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Volume      decimal.Decimal `json:"volume"`
	StopLoss    decimal.Decimal `json:"stop_loss,omitempty"`   // zero when unset
	TakeProfit  decimal.Decimal `json:"take_profit,omitempty"` // zero when unset
	Status      PositionStatus  `json:"status"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // set on close
}

// IsLong checks if the position profits from rising prices.
func (p *Position) IsLong() bool {
	return p.Side == SideBuy
}

// Notional returns the entry exposure (entry price * volume).
func (p *Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Volume)
}

// Close marks the position closed with the realized result.
func (p *Position) Close(pnl decimal.Decimal, at time.Time) {
	p.Status = PositionClosed
	p.RealizedPnL = pnl
	p.ClosedAt = at
}
