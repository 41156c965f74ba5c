package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
	"crypto_core/internal/feed"
	"crypto_core/internal/infra"
	"crypto_core/internal/kraken"
	"crypto_core/internal/risk"
	"crypto_core/internal/storage"
	"crypto_core/internal/strategy"
)

// Exchange is the REST surface the engine depends on.
type Exchange interface {
	GetTicker(ctx context.Context, pair string) (kraken.Ticker, error)
	AddOrder(ctx context.Context, req kraken.OrderRequest) (*kraken.AddOrderResult, error)
	CancelOrder(ctx context.Context, txid string) (int, error)
	GetOpenOrders(ctx context.Context) (map[string]kraken.OrderInfo, error)
	GetOpenPositions(ctx context.Context) (map[string]kraken.PositionInfo, error)
	GetBalance(ctx context.Context) (map[string]decimal.Decimal, error)
}

// OrderFeed is the private websocket order-entry path. The engine prefers it
// and falls back to REST when it is down.
type OrderFeed interface {
	AddOrder(req kraken.OrderRequest) error
	PrivateConnected() bool
}

// Inbound event kinds. Feed handlers enqueue; only the Run goroutine
// consumes, so per-connection wire order is preserved into state mutation.
type (
	reconcileMsg struct{ reason string }
	intentMsg    struct{ intent strategy.Intent }
)

// Metrics is the engine's point-in-time summary.
type Metrics struct {
	OpenOrders    int                         `json:"open_orders"`
	OpenPositions int                         `json:"open_positions"`
	Suspended     bool                        `json:"suspended"`
	Risk          risk.Metrics                `json:"risk"`
	Performance   *storage.PerformanceMetrics `json:"performance,omitempty"`
}

// Engine owns all Order and Position state. A single goroutine consumes the
// inbox and performs every mutation; the mutex exists only for external
// readers (Metrics, snapshots).
type Engine struct {
	cfg    *infra.Config
	ex     Exchange
	poller Exchange // reconciliation reads; defaults to ex
	orders OrderFeed
	store  *storage.TradeStore
	risk   *risk.Manager
	strat  strategy.Strategy

	inbox chan any

	mu         sync.RWMutex
	markets    map[string]*domain.MarketSnapshot
	liveOrders map[string]*domain.Order
	positions  map[string]*domain.Position
	balances   domain.Balances
	suspended  bool
	closing    map[string]bool // positions with an exit order in flight
	posSeq     int64

	feeMaker decimal.Decimal
	feeTaker decimal.Decimal
	stopPct  decimal.Decimal
	takePct  decimal.Decimal

	loopInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the engine. orderFeed and store may be nil (REST-only order
// path, no persistence); strat may be nil for a passive engine.
func New(cfg *infra.Config, ex Exchange, orderFeed OrderFeed, store *storage.TradeStore, riskMgr *risk.Manager, strat strategy.Strategy) *Engine {
	if strat == nil {
		strat = strategy.Noop{}
	}
	return &Engine{
		cfg:          cfg,
		ex:           ex,
		poller:       ex,
		orders:       orderFeed,
		store:        store,
		risk:         riskMgr,
		strat:        strat,
		inbox:        make(chan any, 1024),
		markets:      make(map[string]*domain.MarketSnapshot),
		liveOrders:   make(map[string]*domain.Order),
		positions:    make(map[string]*domain.Position),
		balances:     make(domain.Balances),
		closing:      make(map[string]bool),
		feeMaker:     decimal.NewFromFloat(cfg.Fees.Maker),
		feeTaker:     decimal.NewFromFloat(cfg.Fees.Taker),
		stopPct:      decimal.NewFromFloat(cfg.Stops.StopLossPct),
		takePct:      decimal.NewFromFloat(cfg.Stops.TakeProfitPct),
		loopInterval: time.Duration(cfg.Trading.EngineLoopIntervalSec) * time.Second,
	}
}

// SetPoller routes reconciliation reads through a separate client. With a
// second API key configured, polling nonces never race order-placement
// nonces on the venue side. Call before Start.
func (e *Engine) SetPoller(ex Exchange) {
	if ex != nil {
		e.poller = ex
	}
}

// Start reconciles state from the venue, then launches the event loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.reconcile(ctx, "startup"); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)

	slog.Info("🚀 Trading engine started",
		slog.String("strategy", e.strat.Name()),
		slog.Any("pairs", e.cfg.Trading.Pairs))
	return nil
}

// Stop terminates the event loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// ----- Feed handlers: enqueue only, never touch state -----

// HandleTicker enqueues a market data update.
func (e *Engine) HandleTicker(ev feed.TickerEvent) { e.inbox <- ev }

// HandleExecution enqueues an own-order update.
func (e *Engine) HandleExecution(ev feed.ExecutionEvent) { e.inbox <- ev }

// HandleBalance enqueues a balance update.
func (e *Engine) HandleBalance(ev feed.BalanceEvent) { e.inbox <- ev }

// HandleStale requests a REST reconciliation; the feed calls this after
// repeated reconnect failures.
func (e *Engine) HandleStale() { e.inbox <- reconcileMsg{reason: "stale feed"} }

// SubmitIntent queues an order intent for risk approval and placement.
func (e *Engine) SubmitIntent(in strategy.Intent) { e.inbox <- intentMsg{intent: in} }

// run is the single-writer event loop.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Trading engine stopping...")
			return
		case msg := <-e.inbox:
			e.process(ctx, msg)
		case <-ticker.C:
			e.periodic(ctx)
		}
	}
}

func (e *Engine) process(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case feed.TickerEvent:
		e.onTicker(ctx, m)
	case feed.ExecutionEvent:
		e.onExecution(ctx, m)
	case feed.BalanceEvent:
		e.onBalance(ctx, m)
	case reconcileMsg:
		if err := e.reconcile(ctx, m.reason); err != nil {
			slog.Error("Reconciliation failed", slog.String("reason", m.reason), slog.Any("error", err))
			e.journal(ctx, "reconcile_failed", err.Error(), "error")
		}
	case intentMsg:
		e.placeIntent(ctx, m.intent)
	default:
		slog.Warn("Unknown engine event", slog.Any("type", fmt.Sprintf("%T", msg)))
	}
}

// ----- Market data -----

func (e *Engine) onTicker(ctx context.Context, ev feed.TickerEvent) {
	pair := domain.NormalizePair(ev.Pair)

	e.mu.Lock()
	snap, ok := e.markets[pair]
	if !ok {
		snap = &domain.MarketSnapshot{Pair: pair}
		e.markets[pair] = snap
	}
	snap.Bid = ev.Bid
	snap.Ask = ev.Ask
	snap.Last = ev.Last
	snap.UpdatedAt = ev.At

	if mid := snap.Mid(); !mid.IsZero() {
		snap.RecordTrade(domain.Trade{
			Pair:      pair,
			Price:     mid,
			Time:      ev.At,
			Synthetic: true,
		})
	}
	e.mu.Unlock()

	e.checkExits(ctx, pair, ev.Last)
}

// checkExits evaluates stop-loss and take-profit for open positions on pair.
func (e *Engine) checkExits(ctx context.Context, pair string, last decimal.Decimal) {
	if last.IsZero() {
		return
	}

	for id, pos := range e.positions {
		if pos.Status != domain.PositionOpen || pos.Pair != pair || e.closing[id] {
			continue
		}

		var reason string
		if pos.IsLong() {
			if !pos.StopLoss.IsZero() && last.LessThanOrEqual(pos.StopLoss) {
				reason = "stop loss"
			} else if !pos.TakeProfit.IsZero() && last.GreaterThanOrEqual(pos.TakeProfit) {
				reason = "take profit"
			}
		} else {
			if !pos.StopLoss.IsZero() && last.GreaterThanOrEqual(pos.StopLoss) {
				reason = "stop loss"
			} else if !pos.TakeProfit.IsZero() && last.LessThanOrEqual(pos.TakeProfit) {
				reason = "take profit"
			}
		}
		if reason == "" {
			continue
		}

		slog.Info("Exit triggered",
			slog.String("position", id),
			slog.String("pair", pair),
			slog.String("reason", reason),
			slog.String("last", last.String()))
		e.journal(ctx, "exit_triggered", fmt.Sprintf("%s on %s at %s", reason, pair, last), "info")
		e.closePosition(ctx, pos, reason)
	}
}

// closePosition submits a market order on the opposite side.
func (e *Engine) closePosition(ctx context.Context, pos *domain.Position, reason string) {
	req := kraken.OrderRequest{
		Pair:      domain.VenuePair(pos.Pair),
		Side:      string(pos.Side.Opposite()),
		OrderType: "market",
		Volume:    pos.Volume,
	}
	if err := e.submit(ctx, req); err != nil {
		slog.Error("Failed to submit closing order",
			slog.String("position", pos.ID),
			slog.String("reason", reason),
			slog.Any("error", err))
		e.journal(ctx, "close_failed", fmt.Sprintf("%s: %v", pos.ID, err), "error")
		return
	}
	e.closing[pos.ID] = true
}

// ----- Executions -----

var statusMap = map[string]domain.OrderStatus{
	"new":              domain.OrderNew,
	"pending_new":      domain.OrderNew,
	"open":             domain.OrderOpen,
	"partially_filled": domain.OrderPartiallyFilled,
	"filled":           domain.OrderFilled,
	"canceled":         domain.OrderCanceled,
	"cancelled":        domain.OrderCanceled,
	"rejected":         domain.OrderRejected,
	"expired":          domain.OrderExpired,
}

func (e *Engine) onExecution(ctx context.Context, ev feed.ExecutionEvent) {
	pair := domain.NormalizePair(ev.Pair)

	e.mu.Lock()
	order, ok := e.liveOrders[ev.OrderID]
	if !ok {
		order = &domain.Order{
			ID:        ev.OrderID,
			Pair:      pair,
			Side:      domain.OrderSide(ev.Side),
			Type:      domain.OrderType(ev.OrderType),
			Volume:    ev.Volume,
			Status:    domain.OrderNew,
			CreatedAt: ev.At,
		}
		e.liveOrders[ev.OrderID] = order
	}

	fillDelta := ev.FilledVolume.Sub(order.FilledVolume)
	if fillDelta.Sign() < 0 {
		// Snapshot replays can repeat old state; never unwind a fill.
		fillDelta = decimal.Zero
	} else {
		order.FilledVolume = ev.FilledVolume
	}
	if st, ok := statusMap[strings.ToLower(ev.Status)]; ok {
		order.Status = st
	}
	order.UpdatedAt = ev.At
	e.mu.Unlock()

	e.logOrder(ctx, order)

	if fillDelta.Sign() > 0 && ev.LastPrice.Sign() > 0 {
		e.applyFill(ctx, order, fillDelta, ev.LastPrice, ev.Fee, ev.At)
	}

	if order.Terminal() {
		e.mu.Lock()
		delete(e.liveOrders, order.ID)
		e.mu.Unlock()
	}
}

// applyFill updates position state for one fill slice.
func (e *Engine) applyFill(ctx context.Context, order *domain.Order, volume, price, fee decimal.Decimal, at time.Time) {
	e.logTrade(ctx, &domain.Trade{
		OrderID: order.ID,
		Pair:    order.Pair,
		Price:   price,
		Volume:  volume,
		Side:    order.Side,
		Fee:     fee,
		Time:    at,
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.openPositionOn(order.Pair)

	switch {
	case pos == nil:
		e.openPosition(ctx, order, volume, price, at)

	case pos.Side == order.Side:
		// Scaling in: volume-weighted entry.
		oldNotional := pos.EntryPrice.Mul(pos.Volume)
		addNotional := price.Mul(volume)
		pos.Volume = pos.Volume.Add(volume)
		pos.EntryPrice = oldNotional.Add(addNotional).Div(pos.Volume)
		e.applyStops(pos)
		e.logPosition(ctx, pos)

	default:
		closeVol := decimal.Min(volume, pos.Volume)
		pnl := ComputePnL(pos.Side, pos.EntryPrice, price, closeVol, e.feeRate(order.Type))

		if closeVol.Equal(pos.Volume) {
			pos.Close(pos.RealizedPnL.Add(pnl.Net), at)
			delete(e.closing, pos.ID)
			slog.Info("Position closed",
				slog.String("position", pos.ID),
				slog.String("pair", pos.Pair),
				slog.String("net_pnl", pnl.Net.String()),
				slog.String("pct", pnl.Percent.StringFixed(4)))
		} else {
			pos.Volume = pos.Volume.Sub(closeVol)
			pos.RealizedPnL = pos.RealizedPnL.Add(pnl.Net)
		}
		e.logPosition(ctx, pos)

		// A fill larger than the position flips the remainder.
		if leftover := volume.Sub(closeVol); leftover.Sign() > 0 {
			e.openPosition(ctx, order, leftover, price, at)
		}
	}
}

// openPosition creates a new position from a fill. Caller holds the mutex.
func (e *Engine) openPosition(ctx context.Context, order *domain.Order, volume, price decimal.Decimal, at time.Time) {
	e.posSeq++
	pos := &domain.Position{
		ID:         fmt.Sprintf("pos-%d-%s", e.posSeq, order.Pair),
		Pair:       order.Pair,
		Side:       order.Side,
		EntryPrice: price,
		Volume:     volume,
		Status:     domain.PositionOpen,
		OpenedAt:   at,
	}
	e.applyStops(pos)
	e.positions[pos.ID] = pos
	e.logPosition(ctx, pos)

	slog.Info("Position opened",
		slog.String("position", pos.ID),
		slog.String("pair", pos.Pair),
		slog.String("side", string(pos.Side)),
		slog.String("entry", price.String()),
		slog.String("volume", volume.String()))
}

// applyStops sets side-aware stop-loss and take-profit levels from the
// configured percentages. Zero percentages leave the level unset.
func (e *Engine) applyStops(pos *domain.Position) {
	if e.stopPct.Sign() > 0 {
		delta := pos.EntryPrice.Mul(e.stopPct).Div(hundred)
		if pos.IsLong() {
			pos.StopLoss = pos.EntryPrice.Sub(delta)
		} else {
			pos.StopLoss = pos.EntryPrice.Add(delta)
		}
	}
	if e.takePct.Sign() > 0 {
		delta := pos.EntryPrice.Mul(e.takePct).Div(hundred)
		if pos.IsLong() {
			pos.TakeProfit = pos.EntryPrice.Add(delta)
		} else {
			pos.TakeProfit = pos.EntryPrice.Sub(delta)
		}
	}
}

// openPositionOn returns the open position for pair, if any. Caller holds
// the mutex.
func (e *Engine) openPositionOn(pair string) *domain.Position {
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen && p.Pair == pair {
			return p
		}
	}
	return nil
}

// ----- Balances -----

func (e *Engine) onBalance(ctx context.Context, ev feed.BalanceEvent) {
	e.mu.Lock()
	for asset, v := range ev.Balances {
		e.balances[asset] = v
	}
	e.mu.Unlock()

	e.guardBalance(ctx)
}

// guardBalance suspends entries and flattens everything when the quote
// balance drops below the configured floor.
func (e *Engine) guardBalance(ctx context.Context) {
	floor := decimal.NewFromFloat(e.cfg.Risk.MinBalanceRequired)
	alert := decimal.NewFromFloat(e.cfg.Risk.MinBalanceAlert)
	if floor.Sign() <= 0 && alert.Sign() <= 0 {
		return
	}

	quote := e.quoteBalance()

	if alert.Sign() > 0 && quote.LessThan(alert) && (floor.Sign() <= 0 || quote.GreaterThanOrEqual(floor)) {
		slog.Warn("Quote balance below alert threshold",
			slog.String("balance", quote.String()),
			slog.String("alert", alert.String()))
		e.journal(ctx, "balance_alert", fmt.Sprintf("quote balance %s below alert %s", quote, alert), "warning")
	}

	if floor.Sign() > 0 && quote.LessThan(floor) {
		e.mu.Lock()
		already := e.suspended
		e.suspended = true
		var open []*domain.Position
		for _, p := range e.positions {
			if p.Status == domain.PositionOpen {
				open = append(open, p)
			}
		}
		e.mu.Unlock()

		if !already {
			slog.Error("Quote balance below minimum, suspending entries and flattening",
				slog.String("balance", quote.String()),
				slog.String("floor", floor.String()))
			e.journal(ctx, "balance_guard", fmt.Sprintf("quote balance %s below floor %s", quote, floor), "critical")
			for _, p := range open {
				if !e.closing[p.ID] {
					e.closePosition(ctx, p, "balance guard")
				}
			}
		}
	}
}

// quoteBalance returns the balance of the first configured pair's quote
// asset. All configured pairs are expected to share one quote currency.
func (e *Engine) quoteBalance() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.Quote(e.quoteAsset())
}

func (e *Engine) quoteAsset() string {
	if len(e.cfg.Trading.Pairs) == 0 {
		return "USD"
	}
	parts := strings.Split(e.cfg.Trading.Pairs[0], "/")
	if len(parts) != 2 {
		return "USD"
	}
	return parts[1]
}

// ----- Periodic loop -----

func (e *Engine) periodic(ctx context.Context) {
	e.mu.RLock()
	suspended := e.suspended
	positions := e.openPositions()
	snaps := make([]*domain.MarketSnapshot, 0, len(e.markets))
	for _, s := range e.markets {
		snaps = append(snaps, s)
	}
	e.mu.RUnlock()

	// Strategy entries are skipped while suspended; exits keep running.
	if !suspended {
		for _, snap := range snaps {
			for _, intent := range e.strat.Evaluate(snap, positions) {
				e.placeIntent(ctx, intent)
			}
		}
	}

	for _, snap := range snaps {
		if !snap.Last.IsZero() {
			e.checkExits(ctx, snap.Pair, snap.Last)
		}
	}

	metrics := e.risk.ComputeMetrics(positions)
	if e.risk.OverLimit(metrics) {
		e.reduceExposure(ctx, positions, metrics)
	}
}

// reduceExposure closes the largest open position when the risk score
// exceeds the configured maximum.
func (e *Engine) reduceExposure(ctx context.Context, positions []*domain.Position, m risk.Metrics) {
	var largest *domain.Position
	for _, p := range positions {
		if e.closing[p.ID] {
			continue
		}
		if largest == nil || p.Notional().GreaterThan(largest.Notional()) {
			largest = p
		}
	}
	if largest == nil {
		return
	}

	slog.Warn("Risk score over limit, reducing exposure",
		slog.String("score", m.RiskScore.String()),
		slog.String("position", largest.ID),
		slog.String("notional", largest.Notional().String()))
	e.journal(ctx, "reduce_exposure",
		fmt.Sprintf("risk score %s, closing %s", m.RiskScore, largest.ID), "warning")
	e.closePosition(ctx, largest, "reduce exposure")
}

// ----- Order placement -----

// placeIntent risk-checks and submits one intent. Runs on the loop goroutine.
func (e *Engine) placeIntent(ctx context.Context, in strategy.Intent) {
	e.mu.RLock()
	suspended := e.suspended
	positions := e.openPositions()
	quote := e.balances.Quote(e.quoteAsset())
	snap := e.markets[in.Pair]
	e.mu.RUnlock()

	if suspended {
		slog.Warn("Entry rejected, engine suspended", slog.String("pair", in.Pair))
		return
	}

	price := in.Price
	if price.IsZero() && snap != nil {
		price = snap.Last
	}
	if price.IsZero() {
		slog.Warn("No price available for intent", slog.String("pair", in.Pair))
		return
	}

	if ok, reason := e.risk.Approve(in.Pair, in.Volume, price, positions, quote); !ok {
		slog.Warn("Order rejected by risk",
			slog.String("pair", in.Pair),
			slog.String("reason", reason))
		e.journal(ctx, "risk_rejected", reason, "warning")
		return
	}

	preview := PreviewCost(in.Volume, price, e.feeRate(in.Type))
	slog.Info("Placing order",
		slog.String("pair", in.Pair),
		slog.String("side", string(in.Side)),
		slog.String("type", string(in.Type)),
		slog.String("volume", in.Volume.String()),
		slog.String("est_cost", preview.Total.String()),
		slog.String("reason", in.Reason))

	req := kraken.OrderRequest{
		Pair:      domain.VenuePair(in.Pair),
		Side:      string(in.Side),
		OrderType: string(in.Type),
		Volume:    in.Volume,
	}
	if in.Type == domain.TypeLimit {
		req.Price = price
	}

	if err := e.submit(ctx, req); err != nil {
		slog.Error("Order submission failed",
			slog.String("pair", in.Pair),
			slog.Any("error", err))
		e.journal(ctx, "order_failed", err.Error(), "error")
	}
}

// submit sends the order over the private feed when connected, falling back
// to REST.
func (e *Engine) submit(ctx context.Context, req kraken.OrderRequest) error {
	if e.orders != nil && e.orders.PrivateConnected() {
		if err := e.orders.AddOrder(req); err == nil {
			return nil
		} else {
			slog.Warn("Feed order path failed, falling back to REST", slog.Any("error", err))
		}
	}

	res, err := e.ex.AddOrder(ctx, req)
	if err != nil {
		return err
	}

	// REST acks synchronously; track the order before executions arrive.
	if len(res.TxID) > 0 {
		now := time.Now()
		order := &domain.Order{
			ID:        res.TxID[0],
			Pair:      domain.NormalizePair(req.Pair),
			Side:      domain.OrderSide(req.Side),
			Type:      domain.OrderType(req.OrderType),
			Volume:    req.Volume,
			Price:     req.Price,
			Status:    domain.OrderNew,
			CreatedAt: now,
			UpdatedAt: now,
		}
		e.mu.Lock()
		e.liveOrders[order.ID] = order
		e.mu.Unlock()
		e.logOrder(ctx, order)
	}
	return nil
}

func (e *Engine) feeRate(t domain.OrderType) decimal.Decimal {
	if t == domain.TypeLimit {
		return e.feeMaker
	}
	return e.feeTaker
}

// ----- Reconciliation -----

// reconcile replaces in-memory order, position and balance state with the
// venue's. Feed continuity is never trusted across an outage.
func (e *Engine) reconcile(ctx context.Context, reason string) error {
	// Read-only mode has no private endpoints to reconcile against.
	if !e.cfg.HasCredentials() {
		slog.Info("Skipping reconciliation, no credentials", slog.String("reason", reason))
		return nil
	}
	slog.Info("Reconciling state from venue", slog.String("reason", reason))

	openOrders, err := e.poller.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}
	openPositions, err := e.poller.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	balances, err := e.poller.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.liveOrders = make(map[string]*domain.Order, len(openOrders))
	for txid, oi := range openOrders {
		order, err := orderFromVenue(txid, oi)
		if err != nil {
			slog.Warn("Skipping unparseable open order", slog.String("txid", txid), slog.Any("error", err))
			continue
		}
		e.liveOrders[txid] = order
	}

	// Positions are rebuilt wholesale: no duplicates after a reconnect.
	e.positions = make(map[string]*domain.Position, len(openPositions))
	e.closing = make(map[string]bool)
	for txid, pi := range openPositions {
		pos, err := positionFromVenue(txid, pi)
		if err != nil {
			slog.Warn("Skipping unparseable position", slog.String("txid", txid), slog.Any("error", err))
			continue
		}
		e.applyStops(pos)
		e.positions[pos.ID] = pos
	}

	e.balances = make(domain.Balances, len(balances))
	for asset, v := range balances {
		e.balances[asset] = v
	}

	slog.Info("✅ State reconciled",
		slog.Int("orders", len(e.liveOrders)),
		slog.Int("positions", len(e.positions)),
		slog.Int("assets", len(e.balances)))

	if e.store != nil {
		if err := e.store.UpsertMetadata(ctx, "last_reconcile", time.Now().UTC().Format(time.RFC3339)); err != nil {
			slog.Warn("Failed to record reconcile time", slog.Any("error", err))
		}
	}
	return nil
}

func orderFromVenue(txid string, oi kraken.OrderInfo) (*domain.Order, error) {
	volume, err := decimal.NewFromString(oi.Volume)
	if err != nil {
		return nil, fmt.Errorf("volume: %w", err)
	}
	filled, err := decimal.NewFromString(oi.VolumeExec)
	if err != nil {
		return nil, fmt.Errorf("vol_exec: %w", err)
	}
	price := decimal.Zero
	if oi.Descr.Price != "" {
		if price, err = decimal.NewFromString(oi.Descr.Price); err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
	}

	status := domain.OrderOpen
	if st, ok := statusMap[strings.ToLower(oi.Status)]; ok {
		status = st
	}

	sec, frac := int64(oi.OpenTime), oi.OpenTime-float64(int64(oi.OpenTime))
	return &domain.Order{
		ID:           txid,
		Pair:         domain.NormalizePair(oi.Descr.Pair),
		Side:         domain.OrderSide(oi.Descr.Type),
		Type:         domain.OrderType(oi.Descr.OrderType),
		Volume:       volume,
		Price:        price,
		FilledVolume: filled,
		Status:       status,
		CreatedAt:    time.Unix(sec, int64(frac*1e9)),
		UpdatedAt:    time.Now(),
	}, nil
}

func positionFromVenue(txid string, pi kraken.PositionInfo) (*domain.Position, error) {
	volume, err := decimal.NewFromString(pi.Volume)
	if err != nil {
		return nil, fmt.Errorf("vol: %w", err)
	}
	if pi.VolumeClosed != "" {
		closed, err := decimal.NewFromString(pi.VolumeClosed)
		if err != nil {
			return nil, fmt.Errorf("vol_closed: %w", err)
		}
		volume = volume.Sub(closed)
	}
	if volume.Sign() <= 0 {
		return nil, fmt.Errorf("no remaining volume")
	}

	cost, err := decimal.NewFromString(pi.Cost)
	if err != nil {
		return nil, fmt.Errorf("cost: %w", err)
	}

	return &domain.Position{
		ID:         txid,
		Pair:       domain.NormalizePair(pi.Pair),
		Side:       domain.OrderSide(pi.Type),
		EntryPrice: cost.Div(volume),
		Volume:     volume,
		Status:     domain.PositionOpen,
		OpenedAt:   time.Now(),
	}, nil
}

// ----- Observability -----

// openPositions snapshots the open positions. Caller holds at least RLock.
func (e *Engine) openPositions() []*domain.Position {
	out := make([]*domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	return out
}

// Positions returns a snapshot of open positions for external readers.
func (e *Engine) Positions() []*domain.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// Market returns a copy of the snapshot for one pair, or nil.
func (e *Engine) Market(pair string) *domain.MarketSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.markets[pair]
	if !ok {
		return nil
	}
	cp := *s
	cp.Trades = append([]domain.Trade(nil), s.Trades...)
	return &cp
}

// GetMetrics builds the engine summary, including store performance when
// persistence is configured. Positions are copied under the lock; the risk
// computation below never sees live pointers the loop goroutine mutates.
func (e *Engine) GetMetrics(ctx context.Context) (Metrics, error) {
	e.mu.RLock()
	positions := make([]*domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Status == domain.PositionOpen {
			cp := *p
			positions = append(positions, &cp)
		}
	}
	out := Metrics{
		OpenOrders:    len(e.liveOrders),
		OpenPositions: len(positions),
		Suspended:     e.suspended,
	}
	e.mu.RUnlock()

	out.Risk = e.risk.ComputeMetrics(positions)

	if e.store != nil {
		perf, err := e.store.GetPerformanceMetrics(ctx)
		if err != nil {
			return out, fmt.Errorf("performance metrics: %w", err)
		}
		out.Performance = perf
	}
	return out, nil
}

// ----- Persistence helpers: failures are logged, never fatal -----

func (e *Engine) logOrder(ctx context.Context, o *domain.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.LogOrder(ctx, o); err != nil {
		slog.Warn("Failed to persist order", slog.String("id", o.ID), slog.Any("error", err))
	}
}

func (e *Engine) logTrade(ctx context.Context, t *domain.Trade) {
	if e.store == nil {
		return
	}
	if err := e.store.LogTrade(ctx, t); err != nil {
		slog.Warn("Failed to persist trade", slog.Any("error", err))
	}
}

func (e *Engine) logPosition(ctx context.Context, p *domain.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.LogPosition(ctx, p); err != nil {
		slog.Warn("Failed to persist position", slog.String("id", p.ID), slog.Any("error", err))
	}
}

func (e *Engine) journal(ctx context.Context, eventType, message, severity string) {
	if e.store == nil {
		return
	}
	if err := e.store.LogEvent(ctx, eventType, message, severity); err != nil {
		slog.Warn("Failed to journal event", slog.String("type", eventType), slog.Any("error", err))
	}
}
