package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"crypto_core/internal/infra"
)

var upgrader = websocket.Upgrader{}

// wsURL rewrites an httptest server URL to the ws scheme.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func feedConfig(url string) *infra.Config {
	var cfg infra.Config
	cfg.API.WSPublicURL = url
	cfg.API.WSPrivateURL = url
	return &cfg
}

func TestManager_SubscribeReplayAndTickerDispatch(t *testing.T) {
	subscribed := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		// Subscription must be replayed on connect.
		var msg map[string]any
		require.NoError(t, ws.ReadJSON(&msg))
		subscribed <- msg

		require.NoError(t, ws.WriteJSON(map[string]any{
			"channel": "ticker",
			"type":    "update",
			"data": []map[string]any{
				{"symbol": "BTC/USD", "bid": 49999.5, "ask": 50000.5, "last": 50000.0},
			},
		}))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(feedConfig(wsURL(srv)), nil)

	ticks := make(chan TickerEvent, 1)
	m.OnTicker(func(ev TickerEvent) { ticks <- ev })
	require.NoError(t, m.Subscribe("ticker", "BTC/USD"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	select {
	case msg := <-subscribed:
		require.Equal(t, "subscribe", msg["method"])
		params := msg["params"].(map[string]any)
		require.Equal(t, "ticker", params["channel"])
		require.Equal(t, []any{"BTC/USD"}, params["symbol"])
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was not replayed on connect")
	}

	select {
	case ev := <-ticks:
		require.Equal(t, "BTC/USD", ev.Pair)
		require.True(t, ev.Last.Equal(decimal.NewFromInt(50000)), "last = %s", ev.Last)
		require.True(t, ev.Bid.LessThan(ev.Ask))
	case <-time.After(3 * time.Second):
		t.Fatal("ticker event not dispatched")
	}
}

func TestManager_HeartbeatAnsweredWithPong(t *testing.T) {
	pong := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(map[string]any{"channel": "heartbeat"}))

		var msg map[string]any
		if err := ws.ReadJSON(&msg); err == nil {
			pong <- msg
		}
	}))
	defer srv.Close()

	m := NewManager(feedConfig(wsURL(srv)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	select {
	case msg := <-pong:
		require.Equal(t, "pong", msg["method"])
	case <-time.After(3 * time.Second):
		t.Fatal("heartbeat was not answered")
	}
}

func TestManager_ReplaysAfterReconnect(t *testing.T) {
	var connects atomic.Int32
	resubscribed := make(chan map[string]any, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		var msg map[string]any
		if err := ws.ReadJSON(&msg); err == nil {
			resubscribed <- msg
		}

		if connects.Add(1) == 1 {
			// Drop the first connection to force a reconnect.
			ws.Close()
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(feedConfig(wsURL(srv)), nil)
	require.NoError(t, m.Subscribe("trade", "ETH/USD"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-resubscribed:
			params := msg["params"].(map[string]any)
			require.Equal(t, "trade", params["channel"])
		case <-time.After(5 * time.Second):
			t.Fatalf("subscription %d not seen", i+1)
		}
	}
}

func TestManager_UnknownChannelDropped(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(map[string]any{
			"channel": "mystery",
			"data":    []map[string]any{{"x": 1}},
		}))
		require.NoError(t, ws.WriteJSON(map[string]any{
			"channel": "ticker",
			"data":    []map[string]any{{"symbol": "BTC/USD", "bid": 1, "ask": 2, "last": 1.5}},
		}))
		close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(feedConfig(wsURL(srv)), nil)
	ticks := make(chan TickerEvent, 1)
	m.OnTicker(func(ev TickerEvent) { ticks <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	// The unknown channel must not break dispatch of what follows.
	select {
	case ev := <-ticks:
		require.Equal(t, "BTC/USD", ev.Pair)
	case <-time.After(3 * time.Second):
		t.Fatal("ticker after unknown channel not dispatched")
	}
	<-done
}

func TestManager_RawHandlerRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		require.NoError(t, ws.WriteJSON(map[string]any{
			"channel": "status",
			"data":    []map[string]any{{"system": "online"}},
		}))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(feedConfig(wsURL(srv)), nil)

	got := make(chan json.RawMessage, 1)
	m.Register("status", func(data json.RawMessage) { got <- data })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	select {
	case data := <-got:
		require.Contains(t, string(data), "online")
	case <-time.After(3 * time.Second):
		t.Fatal("raw handler not invoked")
	}
}
