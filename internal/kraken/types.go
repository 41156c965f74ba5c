package kraken

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// envelope is the REST response wrapper. A non-empty Error array is a venue
// verdict regardless of the HTTP status code.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// SystemStatus reports venue availability.
type SystemStatus struct {
	Status    string `json:"status"` // online, maintenance, cancel_only, post_only
	Timestamp string `json:"timestamp"`
}

// Ticker is one pair's level-1 snapshot. Wire arrays carry
// [price, wholeLotVolume, lotVolume]; only the price matters here.
type Ticker struct {
	Ask  decimal.Decimal
	Bid  decimal.Decimal
	Last decimal.Decimal
}

type rawTicker struct {
	A []string `json:"a"` // ask
	B []string `json:"b"` // bid
	C []string `json:"c"` // last trade closed
}

func (t *rawTicker) toTicker() (Ticker, error) {
	var out Ticker
	var err error
	if out.Ask, err = firstDecimal(t.A); err != nil {
		return out, fmt.Errorf("ask: %w", err)
	}
	if out.Bid, err = firstDecimal(t.B); err != nil {
		return out, fmt.Errorf("bid: %w", err)
	}
	if out.Last, err = firstDecimal(t.C); err != nil {
		return out, fmt.Errorf("last: %w", err)
	}
	return out, nil
}

func firstDecimal(arr []string) (decimal.Decimal, error) {
	if len(arr) == 0 {
		return decimal.Zero, fmt.Errorf("empty price array")
	}
	return decimal.NewFromString(arr[0])
}

// Candle is one OHLC bar. Wire format is a mixed-type array:
// [time, open, high, low, close, vwap, volume, count].
type Candle struct {
	Time   int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	VWAP   decimal.Decimal
	Volume decimal.Decimal
	Count  int64
}

func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 8 {
		return fmt.Errorf("candle has %d fields, want 8", len(raw))
	}

	var err error
	if c.Time, err = raw[0].Int64(); err != nil {
		return err
	}
	for i, dst := range []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.VWAP, &c.Volume} {
		if *dst, err = decimal.NewFromString(raw[i+1].String()); err != nil {
			return err
		}
	}
	c.Count, err = raw[7].Int64()
	return err
}

// BookLevel is one side entry of the order book: [price, volume, timestamp].
type BookLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Time   float64
}

func (b *BookLevel) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 3 {
		return fmt.Errorf("book level has %d fields, want 3", len(raw))
	}

	var err error
	if b.Price, err = decimal.NewFromString(raw[0].String()); err != nil {
		return err
	}
	if b.Volume, err = decimal.NewFromString(raw[1].String()); err != nil {
		return err
	}
	b.Time, err = raw[2].Float64()
	return err
}

// OrderBook is a depth snapshot for one pair.
type OrderBook struct {
	Asks []BookLevel `json:"asks"`
	Bids []BookLevel `json:"bids"`
}

// PublicTrade is one entry from the recent-trades endpoint:
// [price, volume, time, side, ordertype, misc, id].
type PublicTrade struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Time   float64
	Side   string // "b" or "s"
}

func (p *PublicTrade) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 4 {
		return fmt.Errorf("trade has %d fields, want >=4", len(raw))
	}

	var price, volume string
	if err := json.Unmarshal(raw[0], &price); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &volume); err != nil {
		return err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return err
	}
	if p.Volume, err = decimal.NewFromString(volume); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[2], &p.Time); err != nil {
		return err
	}
	return json.Unmarshal(raw[3], &p.Side)
}

// AssetPairInfo describes one tradeable pair.
type AssetPairInfo struct {
	Altname      string `json:"altname"`
	WSName       string `json:"wsname"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	PairDecimals int    `json:"pair_decimals"`
	LotDecimals  int    `json:"lot_decimals"`
	OrderMin     string `json:"ordermin"`
}

// TradeBalance is the account-level margin summary.
type TradeBalance struct {
	EquivalentBalance string `json:"eb"`
	TradeBalanceAmt   string `json:"tb"`
	MarginUsed        string `json:"m"`
	UnrealizedNet     string `json:"n"`
	Equity            string `json:"e"`
	FreeMargin        string `json:"mf"`
}

// OrderDescr is the human-readable order description block.
type OrderDescr struct {
	Pair      string `json:"pair"`
	Type      string `json:"type"` // buy / sell
	OrderType string `json:"ordertype"`
	Price     string `json:"price"`
	Order     string `json:"order"`
}

// OrderInfo is one order from OpenOrders / ClosedOrders.
type OrderInfo struct {
	RefID      string     `json:"refid"`
	Status     string     `json:"status"`
	OpenTime   float64    `json:"opentm"`
	Volume     string     `json:"vol"`
	VolumeExec string     `json:"vol_exec"`
	Cost       string     `json:"cost"`
	Fee        string     `json:"fee"`
	Price      string     `json:"price"`
	Descr      OrderDescr `json:"descr"`
}

type openOrdersResult struct {
	Open map[string]OrderInfo `json:"open"`
}

type closedOrdersResult struct {
	Closed map[string]OrderInfo `json:"closed"`
	Count  int                  `json:"count"`
}

// TradeInfo is one fill from TradesHistory.
type TradeInfo struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Time      float64 `json:"time"`
	Type      string  `json:"type"`
	OrderType string  `json:"ordertype"`
	Price     string  `json:"price"`
	Cost      string  `json:"cost"`
	Fee       string  `json:"fee"`
	Volume    string  `json:"vol"`
}

type tradesHistoryResult struct {
	Trades map[string]TradeInfo `json:"trades"`
	Count  int                  `json:"count"`
}

// PositionInfo is one open margin position.
type PositionInfo struct {
	OrderTxID    string `json:"ordertxid"`
	Pair         string `json:"pair"`
	Type         string `json:"type"` // buy / sell
	OrderType    string `json:"ordertype"`
	Cost         string `json:"cost"`
	Fee          string `json:"fee"`
	Volume       string `json:"vol"`
	VolumeClosed string `json:"vol_closed"`
	Value        string `json:"value"`
	Net          string `json:"net"`
}

// OrderRequest is the outbound AddOrder payload.
type OrderRequest struct {
	Pair      string // venue pair name, e.g. XBTUSD
	Side      string // buy / sell
	OrderType string // market / limit
	Volume    decimal.Decimal
	Price     decimal.Decimal // limit orders only
	UserRef   int32
	Validate  bool // venue-side dry run, nothing is placed
}

// AddOrderResult carries the venue acknowledgement.
type AddOrderResult struct {
	Descr OrderDescr `json:"descr"`
	TxID  []string   `json:"txid"`
}

// CancelResult is shared by CancelOrder and CancelAll.
type CancelResult struct {
	Count int `json:"count"`
}

// WebSocketsToken authorizes private websocket subscriptions.
type WebSocketsToken struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"` // seconds until expiry
}
