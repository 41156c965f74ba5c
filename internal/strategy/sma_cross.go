package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
)

// SMACross is a simple moving-average crossover strategy. It is stateful
// and deterministic: the same price series always yields the same intents.
type SMACross struct {
	pair        string
	shortPeriod int
	longPeriod  int
	volume      decimal.Decimal

	prices []decimal.Decimal // ring, longPeriod wide
	head   int
	count  int

	prevShort decimal.Decimal
	prevLong  decimal.Decimal
	primed    bool
}

// NewSMACross creates the strategy for one pair trading a fixed volume.
func NewSMACross(pair string, shortPeriod, longPeriod int, volume decimal.Decimal) *SMACross {
	if shortPeriod >= longPeriod {
		panic("SMACross: shortPeriod must be less than longPeriod")
	}
	return &SMACross{
		pair:        pair,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		volume:      volume,
		prices:      make([]decimal.Decimal, longPeriod),
	}
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("sma-cross-%d-%d", s.shortPeriod, s.longPeriod)
}

// Evaluate records the latest mid price and emits a market intent when the
// short average crosses the long one: upwards opens a long, downwards closes
// it. Shorts are never opened.
func (s *SMACross) Evaluate(snapshot *domain.MarketSnapshot, positions []*domain.Position) []Intent {
	if snapshot.Pair != s.pair {
		return nil
	}
	mid := snapshot.Mid()
	if mid.IsZero() {
		return nil
	}

	s.prices[s.head] = mid
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}
	if s.count < s.longPeriod {
		return nil
	}

	shortSMA := s.average(s.shortPeriod)
	longSMA := s.average(s.longPeriod)

	defer func() {
		s.prevShort, s.prevLong = shortSMA, longSMA
		s.primed = true
	}()

	if !s.primed {
		return nil
	}

	var hasLong bool
	for _, p := range positions {
		if p.Status == domain.PositionOpen && p.Pair == s.pair && p.IsLong() {
			hasLong = true
			break
		}
	}

	crossedUp := s.prevShort.LessThanOrEqual(s.prevLong) && shortSMA.GreaterThan(longSMA)
	crossedDown := s.prevShort.GreaterThanOrEqual(s.prevLong) && shortSMA.LessThan(longSMA)

	switch {
	case crossedUp && !hasLong:
		return []Intent{{
			Pair:   s.pair,
			Side:   domain.SideBuy,
			Type:   domain.TypeMarket,
			Volume: s.volume,
			Reason: "sma cross up",
		}}
	case crossedDown && hasLong:
		return []Intent{{
			Pair:   s.pair,
			Side:   domain.SideSell,
			Type:   domain.TypeMarket,
			Volume: s.volume,
			Reason: "sma cross down",
		}}
	}
	return nil
}

// average computes the mean of the most recent n prices. Call only when the
// ring holds longPeriod samples.
func (s *SMACross) average(n int) decimal.Decimal {
	sum := decimal.Zero
	idx := s.head // oldest slot when the ring is full
	for i := 0; i < s.longPeriod; i++ {
		pos := (idx + i) % s.longPeriod
		if i >= s.longPeriod-n {
			sum = sum.Add(s.prices[pos])
		}
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
