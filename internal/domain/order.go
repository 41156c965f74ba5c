package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the closing side for a position entered on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes taker (market) from maker (limit) orders.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderStatus follows the venue's order lifecycle.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// Order represents a trading order tracked by the engine.
// ID is venue-assigned and empty until the order is acknowledged.
type Order struct {
	ID           string          `json:"id"`
	Pair         string          `json:"pair"` // canonical BASE/QUOTE
	Side         OrderSide       `json:"side"`
	Type         OrderType       `json:"type"`
	Volume       decimal.Decimal `json:"volume"`
	Price        decimal.Decimal `json:"price"` // zero for market orders
	FilledVolume decimal.Decimal `json:"filled_volume"`
	Status       OrderStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsOpen checks if the order is still active on the venue.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderNew, OrderOpen, OrderPartiallyFilled:
		return true
	}
	return false
}

// Terminal checks if the order reached a final state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}
