package strategy

import (
	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
)

// Intent is a desired action emitted by a strategy. The engine still runs
// every intent through risk approval before anything reaches the venue.
type Intent struct {
	Pair   string
	Side   domain.OrderSide
	Type   domain.OrderType
	Volume decimal.Decimal
	Price  decimal.Decimal // limit orders only
	Reason string
}

// Strategy is the pluggable decision function. Evaluate runs on the engine's
// event goroutine; implementations must not block.
type Strategy interface {
	// Evaluate inspects one pair's market state and the open positions
	// and returns zero or more order intents.
	Evaluate(snapshot *domain.MarketSnapshot, positions []*domain.Position) []Intent
	Name() string
}

// Noop emits nothing. The default when no strategy is configured.
type Noop struct{}

func (Noop) Evaluate(*domain.MarketSnapshot, []*domain.Position) []Intent { return nil }
func (Noop) Name() string                                                 { return "noop" }
