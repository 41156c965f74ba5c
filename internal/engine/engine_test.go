package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto_core/internal/domain"
	"crypto_core/internal/feed"
	"crypto_core/internal/infra"
	"crypto_core/internal/kraken"
	"crypto_core/internal/risk"
	"crypto_core/internal/storage"
	"crypto_core/internal/strategy"
)

type fakeExchange struct {
	mu        sync.Mutex
	added     []kraken.OrderRequest
	orders    map[string]kraken.OrderInfo
	positions map[string]kraken.PositionInfo
	balances  map[string]decimal.Decimal
	nextTxID  string
	pollCalls int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		orders:    map[string]kraken.OrderInfo{},
		positions: map[string]kraken.PositionInfo{},
		balances:  map[string]decimal.Decimal{"ZUSD": d("10000")},
		nextTxID:  "OFAKE1",
	}
}

func (f *fakeExchange) GetTicker(ctx context.Context, pair string) (kraken.Ticker, error) {
	return kraken.Ticker{}, nil
}

func (f *fakeExchange) AddOrder(ctx context.Context, req kraken.OrderRequest) (*kraken.AddOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, req)
	return &kraken.AddOrderResult{TxID: []string{f.nextTxID}}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, txid string) (int, error) { return 1, nil }

func (f *fakeExchange) GetOpenOrders(ctx context.Context) (map[string]kraken.OrderInfo, error) {
	f.mu.Lock()
	f.pollCalls++
	f.mu.Unlock()
	return f.orders, nil
}

func (f *fakeExchange) GetOpenPositions(ctx context.Context) (map[string]kraken.PositionInfo, error) {
	return f.positions, nil
}

func (f *fakeExchange) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return f.balances, nil
}

func (f *fakeExchange) addedOrders() []kraken.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kraken.OrderRequest(nil), f.added...)
}

type fakeOrderFeed struct {
	connected bool
	added     []kraken.OrderRequest
}

func (f *fakeOrderFeed) AddOrder(req kraken.OrderRequest) error {
	f.added = append(f.added, req)
	return nil
}

func (f *fakeOrderFeed) PrivateConnected() bool { return f.connected }

func engineConfig() *infra.Config {
	var cfg infra.Config
	cfg.API.Key = "test-key"
	cfg.API.Secret = "test-secret"
	cfg.Trading.Pairs = []string{"BTC/USD"}
	cfg.Trading.EngineLoopIntervalSec = 3600 // periodic loop driven manually in tests
	cfg.Fees.Maker = 0.002
	cfg.Fees.Taker = 0.002
	cfg.Stops.StopLossPct = 2
	cfg.Stops.TakeProfitPct = 5
	cfg.Risk.MaxPositionSize = 1000
	cfg.Risk.MaxTotalExposure = 2500
	cfg.Risk.MaxPositions = 3
	cfg.Risk.MaxRiskScore = 0.8
	cfg.Risk.MinBalanceRequired = 100
	cfg.Risk.MinBalanceAlert = 200
	return &cfg
}

func newTestEngine(t *testing.T, ex Exchange, of OrderFeed) *Engine {
	t.Helper()
	cfg := engineConfig()
	store, err := storage.NewTradeStore(filepath.Join(t.TempDir(), "trading.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(cfg, ex, of, store, risk.NewManager(risk.LimitsFromConfig(cfg)), nil)
}

func execEvent(orderID, status string, volume, filled, price string) feed.ExecutionEvent {
	return feed.ExecutionEvent{
		OrderID:      orderID,
		Pair:         "BTC/USD",
		Side:         "buy",
		OrderType:    "market",
		Status:       status,
		Volume:       d(volume),
		FilledVolume: d(filled),
		LastPrice:    d(price),
		At:           time.Now(),
	}
}

func TestEngine_FillOpensAndClosesPosition(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	// Opening buy fill at 50000.
	e.onExecution(ctx, execEvent("O1", "filled", "0.01", "0.01", "50000"))

	positions := e.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, "BTC/USD", pos.Pair)
	assert.True(t, pos.EntryPrice.Equal(d("50000")))
	assert.True(t, pos.Volume.Equal(d("0.01")))
	// 2% stop below, 5% take above the entry.
	assert.True(t, pos.StopLoss.Equal(d("49000")), "stop = %s", pos.StopLoss)
	assert.True(t, pos.TakeProfit.Equal(d("52500")), "take = %s", pos.TakeProfit)

	// Closing sell fill at 51000 realizes the documented round trip.
	closeEv := execEvent("O2", "filled", "0.01", "0.01", "51000")
	closeEv.Side = "sell"
	e.onExecution(ctx, closeEv)

	require.Empty(t, e.Positions())

	perf, err := e.store.GetPerformanceMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.ClosedCount)
	assert.Equal(t, 1, perf.WinCount)
	assert.True(t, perf.RealizedPnL.Equal(d("7.98")), "pnl = %s", perf.RealizedPnL)
	assert.Equal(t, 2, perf.TradeCount)
}

func TestEngine_PartialFillsAccumulate(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	e.onExecution(ctx, execEvent("O1", "partially_filled", "0.02", "0.01", "50000"))

	// A replayed snapshot repeating the same cumulative quantity adds nothing.
	e.onExecution(ctx, execEvent("O1", "partially_filled", "0.02", "0.01", "50000"))
	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Volume.Equal(d("0.01")), "volume = %s", positions[0].Volume)

	e.onExecution(ctx, execEvent("O1", "filled", "0.02", "0.02", "50000"))
	positions = e.Positions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Volume.Equal(d("0.02")), "volume = %s", positions[0].Volume)
}

func TestEngine_StopLossTriggersMarketClose(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	e.onExecution(ctx, execEvent("O1", "filled", "0.01", "0.01", "50000"))

	// Price above the stop: nothing happens.
	e.onTicker(ctx, feed.TickerEvent{Pair: "BTC/USD", Bid: d("49500"), Ask: d("49510"), Last: d("49505"), At: time.Now()})
	assert.Empty(t, ex.addedOrders())

	// Crossing the 2% stop (49000) submits a market sell.
	e.onTicker(ctx, feed.TickerEvent{Pair: "BTC/USD", Bid: d("48990"), Ask: d("49000"), Last: d("48995"), At: time.Now()})
	added := ex.addedOrders()
	require.Len(t, added, 1)
	assert.Equal(t, "sell", added[0].Side)
	assert.Equal(t, "market", added[0].OrderType)
	assert.Equal(t, "XBTUSD", added[0].Pair)
	assert.True(t, added[0].Volume.Equal(d("0.01")))

	// Further ticks must not duplicate the exit while it is in flight.
	e.onTicker(ctx, feed.TickerEvent{Pair: "BTC/USD", Bid: d("48000"), Ask: d("48010"), Last: d("48005"), At: time.Now()})
	assert.Len(t, ex.addedOrders(), 1)
}

func TestEngine_TakeProfitShortSide(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	ev := execEvent("O1", "filled", "0.01", "0.01", "50000")
	ev.Side = "sell"
	e.onExecution(ctx, ev)

	positions := e.Positions()
	require.Len(t, positions, 1)
	// Short: stop above, take below.
	assert.True(t, positions[0].StopLoss.Equal(d("51000")))
	assert.True(t, positions[0].TakeProfit.Equal(d("47500")))

	e.onTicker(ctx, feed.TickerEvent{Pair: "BTC/USD", Bid: d("47400"), Ask: d("47410"), Last: d("47405"), At: time.Now()})
	added := ex.addedOrders()
	require.Len(t, added, 1)
	assert.Equal(t, "buy", added[0].Side)
}

func TestEngine_ReconcileReplacesState(t *testing.T) {
	ex := newFakeExchange()
	ex.orders["OVENUE1"] = kraken.OrderInfo{
		Status:     "open",
		Volume:     "0.05",
		VolumeExec: "0.01",
		Descr: kraken.OrderDescr{
			Pair: "XXBTZUSD", Type: "buy", OrderType: "limit", Price: "45000",
		},
	}
	ex.positions["PVENUE1"] = kraken.PositionInfo{
		Pair: "XXBTZUSD", Type: "buy", Cost: "500", Volume: "0.01", VolumeClosed: "0",
	}

	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	// Seed divergent local state; reconcile must replace it wholesale.
	e.onExecution(ctx, execEvent("OSTALE", "open", "1", "0", "0"))
	require.NoError(t, e.reconcile(ctx, "test"))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "PVENUE1", positions[0].ID)
	assert.Equal(t, "BTC/USD", positions[0].Pair)
	assert.True(t, positions[0].EntryPrice.Equal(d("50000")), "entry = %s", positions[0].EntryPrice)

	e.mu.RLock()
	_, stale := e.liveOrders["OSTALE"]
	order, ok := e.liveOrders["OVENUE1"]
	e.mu.RUnlock()
	assert.False(t, stale, "stale order survived reconciliation")
	require.True(t, ok)
	assert.Equal(t, "BTC/USD", order.Pair)
	assert.True(t, order.FilledVolume.Equal(d("0.01")))

	// Reconciling again must not duplicate positions.
	require.NoError(t, e.reconcile(ctx, "again"))
	assert.Len(t, e.Positions(), 1)
}

func TestEngine_RiskRejectionBlocksOrder(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	e.onBalance(ctx, feed.BalanceEvent{Balances: map[string]decimal.Decimal{"ZUSD": d("10000")}})

	// 0.03 * 50000 = 1500 notional, over the 1000 limit.
	e.placeIntent(ctx, strategy.Intent{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Type:   domain.TypeLimit,
		Volume: d("0.03"),
		Price:  d("50000"),
	})
	assert.Empty(t, ex.addedOrders())

	// Within limits it goes through and is tracked.
	e.placeIntent(ctx, strategy.Intent{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Type:   domain.TypeLimit,
		Volume: d("0.01"),
		Price:  d("50000"),
	})
	added := ex.addedOrders()
	require.Len(t, added, 1)
	assert.True(t, added[0].Price.Equal(d("50000")))

	e.mu.RLock()
	_, tracked := e.liveOrders["OFAKE1"]
	e.mu.RUnlock()
	assert.True(t, tracked, "REST-acked order not tracked")
}

func TestEngine_BalanceGuardFlattensAndSuspends(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	e.onExecution(ctx, execEvent("O1", "filled", "0.01", "0.01", "50000"))
	e.onBalance(ctx, feed.BalanceEvent{Balances: map[string]decimal.Decimal{"ZUSD": d("50")}})

	// The guard closes the open position with a market order.
	added := ex.addedOrders()
	require.Len(t, added, 1)
	assert.Equal(t, "sell", added[0].Side)

	// Entries are now suspended.
	e.placeIntent(ctx, strategy.Intent{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Type:   domain.TypeMarket,
		Volume: d("0.001"),
	})
	assert.Len(t, ex.addedOrders(), 1)
}

func TestEngine_OrderFeedPreferredOverREST(t *testing.T) {
	ex := newFakeExchange()
	of := &fakeOrderFeed{connected: true}
	e := newTestEngine(t, ex, of)
	ctx := context.Background()

	e.onBalance(ctx, feed.BalanceEvent{Balances: map[string]decimal.Decimal{"ZUSD": d("10000")}})
	e.placeIntent(ctx, strategy.Intent{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Type:   domain.TypeLimit,
		Volume: d("0.01"),
		Price:  d("50000"),
	})

	assert.Len(t, of.added, 1, "order should go over the private feed")
	assert.Empty(t, ex.addedOrders())

	// With the feed down, the same intent falls back to REST.
	of.connected = false
	e.placeIntent(ctx, strategy.Intent{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Type:   domain.TypeLimit,
		Volume: d("0.01"),
		Price:  d("50000"),
	})
	assert.Len(t, of.added, 1)
	assert.Len(t, ex.addedOrders(), 1)
}

func TestEngine_PollerServesReconciliation(t *testing.T) {
	ex := newFakeExchange()
	poll := newFakeExchange()
	poll.positions["PPOLL1"] = kraken.PositionInfo{
		Pair: "XXBTZUSD", Type: "buy", Cost: "500", Volume: "0.01", VolumeClosed: "0",
	}

	e := newTestEngine(t, ex, nil)
	e.SetPoller(poll)
	ctx := context.Background()

	require.NoError(t, e.reconcile(ctx, "test"))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "PPOLL1", positions[0].ID)
	assert.Zero(t, ex.pollCalls, "primary client must not serve reconciliation reads")

	// Order placement still goes out through the primary client.
	e.onBalance(ctx, feed.BalanceEvent{Balances: map[string]decimal.Decimal{"ZUSD": d("10000")}})
	e.placeIntent(ctx, strategy.Intent{
		Pair:   "BTC/USD",
		Side:   domain.SideBuy,
		Type:   domain.TypeLimit,
		Volume: d("0.001"),
		Price:  d("50000"),
	})
	assert.Len(t, ex.addedOrders(), 1)
	assert.Empty(t, poll.addedOrders())
}

func TestEngine_ReadOnlyStartSkipsReconciliation(t *testing.T) {
	ex := newFakeExchange()
	ex.orders["OVENUE1"] = kraken.OrderInfo{
		Status: "open", Volume: "0.05", VolumeExec: "0",
		Descr: kraken.OrderDescr{Pair: "XXBTZUSD", Type: "buy", OrderType: "limit", Price: "45000"},
	}

	cfg := engineConfig()
	cfg.API.Key = ""
	cfg.API.Secret = ""
	e := New(cfg, ex, nil, nil, risk.NewManager(risk.LimitsFromConfig(cfg)), nil)

	require.NoError(t, e.Start(context.Background()))
	e.Stop()

	assert.Zero(t, ex.pollCalls, "read-only engine must not hit private endpoints")
	assert.Empty(t, e.Positions())
}

func TestEngine_MetricsReadDuringFills(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	// External metrics readers must see copies, never the position structs
	// the fill path mutates.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, err := e.GetMetrics(ctx); err != nil {
				t.Errorf("GetMetrics: %v", err)
				return
			}
		}
	}()

	for i := 1; i <= 100; i++ {
		filled := decimal.New(int64(i), -3)
		e.onExecution(ctx, execEvent("O1", "partially_filled", "1", filled.String(), "50000"))
	}
	<-done

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Volume.Equal(d("0.1")), "volume = %s", positions[0].Volume)
}

func TestEngine_ReduceExposureClosesLargest(t *testing.T) {
	ex := newFakeExchange()
	e := newTestEngine(t, ex, nil)
	ctx := context.Background()

	// Two positions totalling 2400 notional: score 0.96 > 0.8.
	big := execEvent("O1", "filled", "0.05", "0.05", "40000") // 2000
	e.onExecution(ctx, big)
	small := execEvent("O2", "filled", "0.01", "0.01", "40000") // 400
	small.Pair = "ETH/USD"
	e.onExecution(ctx, small)

	e.periodic(ctx)

	added := ex.addedOrders()
	require.Len(t, added, 1)
	assert.Equal(t, "XBTUSD", added[0].Pair, "largest position should be closed first")
	assert.True(t, added[0].Volume.Equal(d("0.05")))
}
