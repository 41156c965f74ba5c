package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"crypto_core/internal/infra"
)

// ConnState is the lifecycle state of one websocket connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSubscribed
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// connHandler defines venue-specific logic for a feed connection.
type connHandler interface {
	GetURL() string
	OnConnect(ctx context.Context, ws *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, ws *websocket.Conn) error
	ID() string
}

const (
	reconnectBase = 5 * time.Second
	reconnectMax  = 60 * time.Second

	// Venue compliance: at most 150 connection attempts per 10 minutes.
	dialCapCalls  = 150
	dialCapWindow = 10 * time.Minute
)

// conn manages the lifecycle of one websocket connection: dial, reconnect
// with jittered backoff, read deadlines, and serialized writes.
type conn struct {
	handler   connHandler
	mu        sync.RWMutex
	ws        *websocket.Conn
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	state     atomic.Int32
	dialGuard *infra.RateLimiter

	// onStale fires once per outage after staleThreshold consecutive
	// failed connection attempts.
	onStale        func()
	staleThreshold int

	backoffBase time.Duration
	backoffMax  time.Duration

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func newConn(handler connHandler) *conn {
	return &conn{
		handler:        handler,
		dialGuard:      infra.NewRateLimiter(dialCapCalls, dialCapWindow),
		staleThreshold: 3,
		backoffBase:    reconnectBase,
		backoffMax:     reconnectMax,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Start initiates the connection loop.
func (c *conn) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.runLoop(ctx)
}

// Stop terminates the connection and waits for the loop to exit.
func (c *conn) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.close()
	c.wg.Wait()
	c.state.Store(int32(StateDisconnected))
}

// State returns the current lifecycle state.
func (c *conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Connected reports whether the connection is live and subscribed.
func (c *conn) Connected() bool {
	return c.State() == StateSubscribed
}

func (c *conn) runLoop(ctx context.Context) {
	defer c.wg.Done()
	retry := 0
	staleFired := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.state.Store(int32(StateConnecting))
		if err := c.connect(ctx); err != nil {
			c.state.Store(int32(StateReconnecting))
			slog.Warn("WS connection failed",
				"id", c.handler.ID(), "err", err, "retry", retry)

			retry++
			if retry >= c.staleThreshold && !staleFired && c.onStale != nil {
				staleFired = true
				c.onStale()
			}

			delay := infra.BackoffWithJitter(retry-1, c.backoffBase, c.backoffMax)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Reset on successful connect
		retry = 0
		staleFired = false
		c.state.Store(int32(StateSubscribed))

		c.process(ctx)
		c.state.Store(int32(StateReconnecting))
	}
}

func (c *conn) connect(ctx context.Context) error {
	// Serialize dial attempts under the venue's connection cap.
	if err := c.dialGuard.Acquire(ctx); err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.handler.GetURL(), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	if err := c.handler.OnConnect(ctx, ws); err != nil {
		c.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	if c.PingInterval > 0 {
		go c.pingLoop(ctx, ws)
	}

	slog.Info("WS connected", "id", c.handler.ID())
	return nil
}

func (c *conn) process(ctx context.Context) {
	for {
		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			return
		}

		// Exceeding the read deadline means the feed went silent past
		// the idle timeout; the read fails and we reconnect.
		ws.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			slog.Warn("WS read error", "id", c.handler.ID(), "err", err)
			c.close()
			return
		}

		c.handler.OnMessage(ctx, msg)
	}
}

// pingLoop is bound to one socket; it exits once the connection is replaced
// or closed.
func (c *conn) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			current := c.ws
			c.mu.RUnlock()
			if current != ws {
				return
			}
			c.writeMu.Lock()
			err := c.handler.OnPing(ctx, ws)
			c.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS ping error", "id", c.handler.ID(), "err", err)
				c.close()
				return
			}
		}
	}
}

// WriteJSON marshals and sends v. Writes are serialized; concurrent callers
// never interleave frames.
func (c *conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return fmt.Errorf("ws not connected")
	}
	return ws.WriteJSON(v)
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}
