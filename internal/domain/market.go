package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// maxRecentTrades bounds the per-pair trade ring.
const maxRecentTrades = 100

// Trade is a single observed fill, public print, or synthetic mid-price
// sample. OrderID and Fee are set only for own-order fills.
type Trade struct {
	OrderID   string          `json:"order_id,omitempty"`
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Side      OrderSide       `json:"side,omitempty"`
	Fee       decimal.Decimal `json:"fee,omitempty"`
	Time      time.Time       `json:"time"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// MarketSnapshot holds the latest known market state for one pair.
// Ephemeral: overwritten on every ticker message, rebuilt from scratch
// after a feed reconnect.
type MarketSnapshot struct {
	Pair      string          `json:"pair"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	UpdatedAt time.Time       `json:"updated_at"`

	Trades []Trade `json:"trades,omitempty"` // most recent last
}

// Mid returns the bid/ask midpoint, or zero if either side is missing.
func (s *MarketSnapshot) Mid() decimal.Decimal {
	if s.Bid.IsZero() || s.Ask.IsZero() {
		return decimal.Zero
	}
	return s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
}

// RecordTrade appends a trade, keeping at most maxRecentTrades entries.
func (s *MarketSnapshot) RecordTrade(t Trade) {
	s.Trades = append(s.Trades, t)
	if len(s.Trades) > maxRecentTrades {
		s.Trades = s.Trades[len(s.Trades)-maxRecentTrades:]
	}
}
