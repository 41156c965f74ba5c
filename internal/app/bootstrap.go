package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"crypto_core/internal/engine"
	"crypto_core/internal/feed"
	"crypto_core/internal/infra"
	"crypto_core/internal/kraken"
	"crypto_core/internal/risk"
	"crypto_core/internal/storage"
	"crypto_core/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config *infra.Config
	Client *kraken.Client
	Store  *storage.TradeStore
	Feed   *feed.Manager
	Engine *engine.Engine

	poller *kraken.Client
	unlock func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (DB, dirs, REST client, feed)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping CryptoCore...")

	// 1. Load Config (Dynamic Path Resolution)
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Workspace layout: _workspace/data and _workspace/logs
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data")
	logDir := filepath.Join(workDir, "logs")
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := infra.EnsureDir(logDir); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	// 3. Setup Logger
	logger := infra.NewLogger(cfg, logDir)
	slog.SetDefault(logger)

	// 3.1 Singleton instance lock. Two engines sharing one nonce file or DB
	// corrupt each other.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	// 4. Nonce state + REST client
	nm, err := kraken.NewNonceManager(filepath.Join(dataDir, cfg.Storage.NoncePath))
	if err != nil {
		return fmt.Errorf("nonce manager: %w", err)
	}
	client, err := kraken.NewClient(cfg, nm)
	if err != nil {
		return fmt.Errorf("rest client: %w", err)
	}
	b.Client = client
	if cfg.HasCredentials() {
		slog.Info("🔐 API credentials loaded, private endpoints enabled")
	} else {
		slog.Warn("No API credentials, running read-only on public endpoints")
	}

	// 5. TradeStore (Single-Writer WAL DB)
	dbPath := filepath.Join(dataDir, cfg.Storage.DBPath)
	store, err := storage.NewTradeStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ TradeStore initialized (WAL-mode)", "path", dbPath)

	// 6. Realtime feed + trading engine
	b.Feed = feed.NewManager(cfg, client)
	riskMgr := risk.NewManager(risk.LimitsFromConfig(cfg))
	b.Engine = engine.New(cfg, client, b.Feed, store, riskMgr, b.buildStrategy())

	// 6.1 Optional second key pair: reconciliation polls on its own key and
	// nonce file so position/balance reads never bump the order key's nonce.
	if cfg.HasSecondCredentials() {
		pollCfg := *cfg
		pollCfg.API.Key = cfg.API.KeySecond
		pollCfg.API.Secret = cfg.API.SecretSecond

		pollNonce, err := kraken.NewNonceManager(filepath.Join(dataDir, secondNoncePath(cfg.Storage.NoncePath)))
		if err != nil {
			return fmt.Errorf("polling nonce manager: %w", err)
		}
		poller, err := kraken.NewClient(&pollCfg, pollNonce)
		if err != nil {
			return fmt.Errorf("polling client: %w", err)
		}
		b.poller = poller
		b.Engine.SetPoller(poller)
		slog.Info("🔐 Second API key loaded, polling runs on its own nonce sequence")
	}

	b.wire()
	return nil
}

// secondNoncePath derives the second key's nonce file from the primary one,
// e.g. nonce_state.json -> nonce_state_2.json.
func secondNoncePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_2" + ext
}

// buildStrategy picks the configured strategy. Unknown names fall back to the
// passive engine.
func (b *Bootstrap) buildStrategy() strategy.Strategy {
	switch b.Config.Trading.Strategy {
	case "sma_cross":
		// The crossover strategy trades one pair; the first configured pair wins.
		return strategy.NewSMACross(
			b.Config.Trading.Pairs[0],
			b.Config.Trading.SMAShort,
			b.Config.Trading.SMALong,
			decimal.NewFromFloat(b.Config.Trading.OrderVolume))
	case "", "none":
		return strategy.Noop{}
	default:
		slog.Warn("Unknown strategy, running passive", "strategy", b.Config.Trading.Strategy)
		return strategy.Noop{}
	}
}

// wire connects feed events to the engine inbox.
func (b *Bootstrap) wire() {
	b.Feed.OnTicker(b.Engine.HandleTicker)
	b.Feed.OnExecution(b.Engine.HandleExecution)
	b.Feed.OnBalance(b.Engine.HandleBalance)
	b.Feed.OnStale(b.Engine.HandleStale)
}

// Start launches the engine and the websocket connections, then subscribes
// the configured channels.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Engine.Start(ctx); err != nil {
		return err
	}
	b.Feed.Start(ctx)

	pairs := b.Config.Trading.Pairs
	if err := b.Feed.Subscribe("ticker", pairs...); err != nil {
		return fmt.Errorf("subscribe ticker: %w", err)
	}
	if err := b.Feed.Subscribe("trade", pairs...); err != nil {
		return fmt.Errorf("subscribe trade: %w", err)
	}

	if b.Config.HasCredentials() {
		if err := b.Feed.Subscribe("executions"); err != nil {
			return fmt.Errorf("subscribe executions: %w", err)
		}
		if err := b.Feed.Subscribe("balances"); err != nil {
			return fmt.Errorf("subscribe balances: %w", err)
		}
	}

	slog.Info("✅ All systems running", "pairs", pairs)
	return nil
}

// Shutdown stops everything in reverse dependency order.
func (b *Bootstrap) Shutdown() {
	slog.Info("🛑 Shutting down...")
	if b.Feed != nil {
		b.Feed.Stop()
	}
	if b.Engine != nil {
		b.Engine.Stop()
	}
	if b.Client != nil {
		b.Client.Close()
	}
	if b.poller != nil {
		b.poller.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("TradeStore close failed", "error", err)
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
	slog.Info("👋 Goodbye")
}
