package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"crypto_core/internal/infra"
	"crypto_core/internal/kraken"
)

// privateChannels require a websocket token on subscribe.
var privateChannels = map[string]bool{
	"executions": true,
	"balances":   true,
}

// tokenClient is the slice of the REST client the feed needs.
type tokenClient interface {
	GetWebSocketsToken(ctx context.Context) (*kraken.WebSocketsToken, error)
}

// Manager owns the public and private feed connections. It tracks the active
// subscription set, replays it after every reconnect, answers heartbeats, and
// fans typed events out to registered handlers in wire order.
type Manager struct {
	cfg    *infra.Config
	client tokenClient
	pub    *conn
	priv   *conn

	mu       sync.Mutex
	subs     map[string][]string // channel -> pairs (nil for private channels)
	handlers map[string][]func(json.RawMessage)
	token    string

	tickerFns  []func(TickerEvent)
	tradeFns   []func(TradeEvent)
	execFns    []func(ExecutionEvent)
	balanceFns []func(BalanceEvent)

	reqID atomic.Int64
}

// NewManager builds the feed manager. client may be nil when running without
// credentials; private channels are then unavailable.
func NewManager(cfg *infra.Config, client tokenClient) *Manager {
	m := &Manager{
		cfg:      cfg,
		client:   client,
		subs:     make(map[string][]string),
		handlers: make(map[string][]func(json.RawMessage)),
	}
	pubEP := &endpoint{m: m, url: cfg.API.WSPublicURL, id: "feed-public"}
	m.pub = newConn(pubEP)
	pubEP.c = m.pub
	if cfg.HasCredentials() && client != nil {
		privEP := &endpoint{m: m, url: cfg.API.WSPrivateURL, id: "feed-private", private: true}
		m.priv = newConn(privEP)
		privEP.c = m.priv
	}
	return m
}

// Start launches the connection loops.
func (m *Manager) Start(ctx context.Context) {
	m.pub.Start(ctx)
	if m.priv != nil {
		m.priv.Start(ctx)
	}
	slog.Info("📡 Feed manager started",
		slog.Bool("private", m.priv != nil))
}

// Stop closes both connections.
func (m *Manager) Stop() {
	m.pub.Stop()
	if m.priv != nil {
		m.priv.Stop()
	}
}

// PrivateConnected reports whether the private connection is live.
func (m *Manager) PrivateConnected() bool {
	return m.priv != nil && m.priv.Connected()
}

// OnStale registers a callback fired when a connection has failed to
// reconnect several times in a row. Applies to both connections.
func (m *Manager) OnStale(fn func()) {
	m.pub.onStale = fn
	if m.priv != nil {
		m.priv.onStale = fn
	}
}

// OnTicker registers a ticker handler.
func (m *Manager) OnTicker(fn func(TickerEvent)) { m.tickerFns = append(m.tickerFns, fn) }

// OnTrade registers a public trade handler.
func (m *Manager) OnTrade(fn func(TradeEvent)) { m.tradeFns = append(m.tradeFns, fn) }

// OnExecution registers an own-order execution handler.
func (m *Manager) OnExecution(fn func(ExecutionEvent)) { m.execFns = append(m.execFns, fn) }

// OnBalance registers a balance update handler.
func (m *Manager) OnBalance(fn func(BalanceEvent)) { m.balanceFns = append(m.balanceFns, fn) }

// Register adds a raw handler for one channel. All registered handlers see
// every message on that channel, in wire order.
func (m *Manager) Register(channel string, fn func(json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[channel] = append(m.handlers[channel], fn)
}

// Subscribe records a subscription and, when the owning connection is live,
// sends it immediately. The set is replayed after every reconnect.
func (m *Manager) Subscribe(channel string, pairs ...string) error {
	if privateChannels[channel] && m.priv == nil {
		return fmt.Errorf("channel %s requires credentials", channel)
	}

	m.mu.Lock()
	existing := m.subs[channel]
	for _, p := range pairs {
		seen := false
		for _, e := range existing {
			if e == p {
				seen = true
				break
			}
		}
		if !seen {
			existing = append(existing, p)
		}
	}
	m.subs[channel] = existing
	merged := append([]string(nil), existing...)
	token := m.token
	m.mu.Unlock()

	c := m.connFor(channel)
	if !c.Connected() {
		return nil // replayed on connect
	}
	return m.sendSubscribe(c, channel, merged, token)
}

func (m *Manager) connFor(channel string) *conn {
	if privateChannels[channel] && m.priv != nil {
		return m.priv
	}
	return m.pub
}

func (m *Manager) sendSubscribe(c *conn, channel string, pairs []string, token string) error {
	params := map[string]any{"channel": channel}
	if len(pairs) > 0 {
		params["symbol"] = pairs
	}
	if privateChannels[channel] {
		params["token"] = token
		if channel == "executions" {
			params["snap_orders"] = true
			params["snap_trades"] = true
		}
	}
	return c.WriteJSON(map[string]any{"method": "subscribe", "params": params})
}

// replay re-sends every subscription owned by the endpoint. Runs on the raw
// socket during OnConnect, before the read loop starts.
func (m *Manager) replay(ws *websocket.Conn, private bool) error {
	m.mu.Lock()
	token := m.token
	type sub struct {
		channel string
		pairs   []string
	}
	var subs []sub
	for ch, pairs := range m.subs {
		if privateChannels[ch] == private {
			subs = append(subs, sub{ch, append([]string(nil), pairs...)})
		}
	}
	m.mu.Unlock()

	for _, s := range subs {
		params := map[string]any{"channel": s.channel}
		if len(s.pairs) > 0 {
			params["symbol"] = s.pairs
		}
		if privateChannels[s.channel] {
			params["token"] = token
			if s.channel == "executions" {
				params["snap_orders"] = true
				params["snap_trades"] = true
			}
		}
		if err := ws.WriteJSON(map[string]any{"method": "subscribe", "params": params}); err != nil {
			return err
		}
	}
	return nil
}

// dispatch routes one inbound message. Unknown channels are dropped with a
// debug log, never an error.
func (m *Manager) dispatch(c *conn, msg []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Debug("Feed message unparseable", "err", err)
		return
	}

	if env.Channel == "heartbeat" {
		if err := c.WriteJSON(map[string]any{"method": "pong"}); err != nil {
			slog.Warn("Heartbeat pong failed", "err", err)
		}
		return
	}

	if env.Method != "" {
		if env.Success != nil && !*env.Success {
			slog.Warn("Feed request rejected",
				slog.String("method", env.Method),
				slog.String("error", env.Error),
				slog.Int64("req_id", env.ReqID))
		} else {
			slog.Debug("Feed ack", "method", env.Method, "req_id", env.ReqID)
		}
		return
	}

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &body); err != nil || body.Data == nil {
		slog.Debug("Feed message without data", "channel", env.Channel)
		return
	}

	switch env.Channel {
	case "ticker":
		m.handleTicker(body.Data)
	case "trade":
		m.handleTrade(body.Data)
	case "executions":
		m.handleExecutions(body.Data)
	case "balances":
		m.handleBalances(body.Data)
	}

	m.mu.Lock()
	var raw []func(json.RawMessage)
	raw = append(raw, m.handlers[env.Channel]...)
	known := env.Channel == "ticker" || env.Channel == "trade" ||
		env.Channel == "executions" || env.Channel == "balances" ||
		env.Channel == "status"
	m.mu.Unlock()

	for _, fn := range raw {
		fn(body.Data)
	}
	if !known && len(raw) == 0 {
		slog.Debug("Unknown feed channel dropped", "channel", env.Channel)
	}
}

func (m *Manager) handleTicker(data json.RawMessage) {
	var ticks []wireTicker
	if err := json.Unmarshal(data, &ticks); err != nil {
		slog.Warn("Ticker payload unparseable", "err", err)
		return
	}
	for _, t := range ticks {
		ev := TickerEvent{Pair: t.Symbol, Bid: t.Bid, Ask: t.Ask, Last: t.Last, At: time.Now()}
		for _, fn := range m.tickerFns {
			fn(ev)
		}
	}
}

func (m *Manager) handleTrade(data json.RawMessage) {
	var trades []wireTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		slog.Warn("Trade payload unparseable", "err", err)
		return
	}
	for _, t := range trades {
		ev := TradeEvent{Pair: t.Symbol, Price: t.Price, Volume: t.Qty, Side: t.Side, At: t.Timestamp}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		for _, fn := range m.tradeFns {
			fn(ev)
		}
	}
}

func (m *Manager) handleExecutions(data json.RawMessage) {
	var execs []wireExecution
	if err := json.Unmarshal(data, &execs); err != nil {
		slog.Warn("Execution payload unparseable", "err", err)
		return
	}
	for _, e := range execs {
		ev := ExecutionEvent{
			OrderID:      e.OrderID,
			Pair:         e.Symbol,
			Side:         e.Side,
			OrderType:    e.OrderType,
			Status:       e.OrderStatus,
			Volume:       e.OrderQty,
			FilledVolume: e.CumQty,
			LastPrice:    e.LastPrice,
			Fee:          e.FeePaid,
			At:           e.Timestamp,
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		for _, fn := range m.execFns {
			fn(ev)
		}
	}
}

func (m *Manager) handleBalances(data json.RawMessage) {
	var rows []wireBalance
	if err := json.Unmarshal(data, &rows); err != nil {
		slog.Warn("Balance payload unparseable", "err", err)
		return
	}
	balances := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		balances[r.Asset] = r.Balance
	}
	ev := BalanceEvent{Balances: balances, At: time.Now()}
	for _, fn := range m.balanceFns {
		fn(ev)
	}
}

// ----- Private order entry -----

// errNotConnected callers fall back to REST.
var errNotConnected = fmt.Errorf("private feed not connected")

// AddOrder submits an order over the private connection.
func (m *Manager) AddOrder(req kraken.OrderRequest) error {
	if !m.PrivateConnected() {
		return errNotConnected
	}

	params := map[string]any{
		"order_type": req.OrderType,
		"side":       req.Side,
		"order_qty":  req.Volume.String(),
		"symbol":     req.Pair,
		"token":      m.currentToken(),
	}
	if req.OrderType == "limit" {
		params["limit_price"] = req.Price.String()
	}
	if req.Validate {
		params["validate"] = true
	}

	return m.priv.WriteJSON(map[string]any{
		"method": "add_order",
		"params": params,
		"req_id": m.reqID.Add(1),
	})
}

// CancelOrder cancels orders by id over the private connection.
func (m *Manager) CancelOrder(orderIDs ...string) error {
	if !m.PrivateConnected() {
		return errNotConnected
	}
	return m.priv.WriteJSON(map[string]any{
		"method": "cancel_order",
		"params": map[string]any{
			"order_id": orderIDs,
			"token":    m.currentToken(),
		},
		"req_id": m.reqID.Add(1),
	})
}

// CancelAllOrders cancels every open order over the private connection.
func (m *Manager) CancelAllOrders() error {
	if !m.PrivateConnected() {
		return errNotConnected
	}
	return m.priv.WriteJSON(map[string]any{
		"method": "cancel_all",
		"params": map[string]any{"token": m.currentToken()},
		"req_id": m.reqID.Add(1),
	})
}

// AmendOrder changes quantity and, for limit orders, price of a live order.
func (m *Manager) AmendOrder(orderID string, qty, limitPrice decimal.Decimal) error {
	if !m.PrivateConnected() {
		return errNotConnected
	}

	params := map[string]any{
		"order_id":  orderID,
		"order_qty": qty.String(),
		"token":     m.currentToken(),
	}
	if !limitPrice.IsZero() {
		params["limit_price"] = limitPrice.String()
	}
	return m.priv.WriteJSON(map[string]any{
		"method": "amend_order",
		"params": params,
		"req_id": m.reqID.Add(1),
	})
}

func (m *Manager) currentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// endpoint adapts the manager to the conn handler interface.
type endpoint struct {
	m       *Manager
	c       *conn
	url     string
	id      string
	private bool
}

func (e *endpoint) GetURL() string { return e.url }
func (e *endpoint) ID() string     { return e.id }

func (e *endpoint) OnConnect(ctx context.Context, ws *websocket.Conn) error {
	if e.private {
		// Token is fetched fresh on every (re)connect; the old one may
		// have expired during the outage.
		tok, err := e.m.client.GetWebSocketsToken(ctx)
		if err != nil {
			return fmt.Errorf("fetch websocket token: %w", err)
		}
		e.m.mu.Lock()
		e.m.token = tok.Token
		e.m.mu.Unlock()
	}
	return e.m.replay(ws, e.private)
}

func (e *endpoint) OnMessage(ctx context.Context, msg []byte) {
	e.m.dispatch(e.c, msg)
}

func (e *endpoint) OnPing(ctx context.Context, ws *websocket.Conn) error {
	return ws.WriteJSON(map[string]any{"method": "ping", "req_id": e.m.reqID.Add(1)})
}
