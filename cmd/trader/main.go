package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crypto_core/internal/app"
	"crypto_core/internal/infra"
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	infra.PrintBanner(bootstrap.Config)

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Engine + feed; the engine reconciles venue state before trading.
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Startup failed", slog.Any("error", err))
		bootstrap.Shutdown()
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("Signal received, draining...")
}
