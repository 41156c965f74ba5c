package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
)

func snap(pair, bid, ask string) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Pair: pair,
		Bid:  decimal.RequireFromString(bid),
		Ask:  decimal.RequireFromString(ask),
	}
}

func feedPrices(s *SMACross, prices []string, positions []*domain.Position) []Intent {
	var all []Intent
	for _, p := range prices {
		all = append(all, s.Evaluate(snap("BTC/USD", p, p), positions)...)
	}
	return all
}

func TestSMACross_BuyOnUpwardCross(t *testing.T) {
	s := NewSMACross("BTC/USD", 2, 4, decimal.RequireFromString("0.01"))

	// Falling then sharply rising series: short SMA crosses above long.
	intents := feedPrices(s, []string{"105", "104", "103", "102", "101", "120", "140"}, nil)
	if len(intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(intents))
	}
	if intents[0].Side != domain.SideBuy || intents[0].Type != domain.TypeMarket {
		t.Errorf("unexpected intent %+v", intents[0])
	}
}

func TestSMACross_NoSignalBeforePrimed(t *testing.T) {
	s := NewSMACross("BTC/USD", 2, 4, decimal.RequireFromString("0.01"))

	for _, p := range []string{"100", "101", "102"} {
		if got := s.Evaluate(snap("BTC/USD", p, p), nil); got != nil {
			t.Fatalf("signal emitted before window filled: %+v", got)
		}
	}
}

func TestSMACross_IgnoresOtherPairs(t *testing.T) {
	s := NewSMACross("BTC/USD", 2, 4, decimal.RequireFromString("0.01"))
	if got := s.Evaluate(snap("ETH/USD", "100", "100"), nil); got != nil {
		t.Fatalf("unexpected intent for foreign pair: %+v", got)
	}
}

func TestSMACross_SellOnlyWithOpenLong(t *testing.T) {
	s := NewSMACross("BTC/USD", 2, 4, decimal.RequireFromString("0.01"))

	// Rising then collapsing series produces a downward cross.
	prices := []string{"100", "101", "102", "103", "104", "80", "60"}
	positions := []*domain.Position{{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Status: domain.PositionOpen,
	}}
	intents := feedPrices(s, prices, positions)
	if len(intents) != 1 || intents[0].Side != domain.SideSell {
		t.Fatalf("expected a sell intent, got %+v", intents)
	}

	// Without an open long the downward cross is silent.
	s2 := NewSMACross("BTC/USD", 2, 4, decimal.RequireFromString("0.01"))
	if got := feedPrices(s2, prices, nil); got != nil {
		t.Fatalf("expected no intent without a long, got %+v", got)
	}
}
