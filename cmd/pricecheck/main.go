package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"crypto_core/internal/domain"
	"crypto_core/internal/infra"
	"crypto_core/internal/kraken"
)

// One-shot public market data check. No credentials, no config file.
func main() {
	pairs := os.Args[1:]
	if len(pairs) == 0 {
		pairs = []string{"BTC/USD", "ETH/USD"}
	}

	var cfg infra.Config
	cfg.Trading.Pairs = pairs
	cfg.API.RESTURL = "https://api.kraken.com"
	cfg.API.TimeoutSec = 10
	cfg.API.CacheTTLSec = 15
	cfg.API.RateLimit.MaxCalls = 3
	cfg.API.RateLimit.PeriodSec = 3
	cfg.API.Breaker.FailureThreshold = 5
	cfg.API.Breaker.SuccessThreshold = 2
	cfg.API.Breaker.TimeoutSec = 30

	client, err := kraken.NewClient(&cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("=== CryptoCore Price Check ===")
	fmt.Println()

	status, err := client.SystemStatus(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "system status:", err)
		os.Exit(1)
	}
	fmt.Printf("🛰  Exchange status: %s\n\n", status.Status)

	for _, pair := range pairs {
		t, err := client.GetTicker(ctx, domain.VenuePair(pair))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ticker %s: %v\n", pair, err)
			continue
		}
		spread := t.Ask.Sub(t.Bid)
		fmt.Printf("📊 %s\n", pair)
		fmt.Printf("   Bid:    %s\n", t.Bid)
		fmt.Printf("   Ask:    %s\n", t.Ask)
		fmt.Printf("   Last:   %s\n", t.Last)
		fmt.Printf("   Spread: %s\n\n", spread)
	}
}
