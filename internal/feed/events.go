package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickerEvent is a best bid/ask/last update for one pair.
type TickerEvent struct {
	Pair string
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
	At   time.Time
}

// TradeEvent is one public trade print.
type TradeEvent struct {
	Pair   string
	Price  decimal.Decimal
	Volume decimal.Decimal
	Side   string // buy / sell
	At     time.Time
}

// ExecutionEvent reports own-order state from the private executions channel.
type ExecutionEvent struct {
	OrderID      string
	Pair         string
	Side         string
	OrderType    string
	Status       string // venue order_status
	Volume       decimal.Decimal
	FilledVolume decimal.Decimal // cumulative
	LastPrice    decimal.Decimal
	Fee          decimal.Decimal
	At           time.Time
}

// BalanceEvent carries per-asset balance updates.
type BalanceEvent struct {
	Balances map[string]decimal.Decimal
	At       time.Time
}

// Wire shapes of the venue's V2 feed.

type wireEnvelope struct {
	Channel string `json:"channel"`
	Method  string `json:"method"`
	Type    string `json:"type"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	ReqID   int64  `json:"req_id,omitempty"`
}

type wireTicker struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
}

type wireTrade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Side      string          `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

type wireExecution struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	OrderType   string          `json:"order_type"`
	OrderStatus string          `json:"order_status"`
	OrderQty    decimal.Decimal `json:"order_qty"`
	CumQty      decimal.Decimal `json:"cum_qty"`
	LastPrice   decimal.Decimal `json:"last_price"`
	FeePaid     decimal.Decimal `json:"fee_usd_equiv"`
	Timestamp   time.Time       `json:"timestamp"`
}

type wireBalance struct {
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}
