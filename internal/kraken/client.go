package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto_core/internal/infra"
)

const (
	// Retry policy for retryable API errors (nonce, rate limit, network).
	maxRetries = 5
	retryBase  = 2 * time.Second
	retryMax   = 30 * time.Second
)

// ErrNoCredentials is returned by private endpoints when the client was
// built without an API key pair.
var ErrNoCredentials = errors.New("no API credentials configured")

type cachedTicker struct {
	ticker  Ticker
	fetched time.Time
}

// Client talks to the venue's REST API. All outbound calls pass through the
// shared rate limiter and the circuit breaker; retryable failures are retried
// with jittered backoff and a fresh nonce per attempt.
type Client struct {
	baseURL     string
	httpc       *http.Client
	signer      *Signer // nil in read-only mode
	nonce       *NonceManager
	limiter     *infra.RateLimiter
	breaker     *infra.CircuitBreaker
	nonceWindow int

	cacheTTL time.Duration
	mu       sync.Mutex
	tickers  map[string]cachedTicker
}

// NewClient builds a REST client from config. A nil nonce manager (or empty
// credentials) yields a public-data-only client; private calls then fail
// with ErrNoCredentials.
func NewClient(cfg *infra.Config, nm *NonceManager) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(cfg.API.RESTURL, "/"),
		httpc: &http.Client{
			Timeout: cfg.Timeout(),
		},
		nonce: nm,
		limiter: infra.NewRateLimiter(cfg.API.RateLimit.MaxCalls,
			time.Duration(cfg.API.RateLimit.PeriodSec)*time.Second),
		breaker: infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "kraken-rest",
			FailureThreshold: cfg.API.Breaker.FailureThreshold,
			SuccessThreshold: cfg.API.Breaker.SuccessThreshold,
			Timeout:          time.Duration(cfg.API.Breaker.TimeoutSec) * time.Second,
		}),
		nonceWindow: cfg.API.NonceWindow,
		cacheTTL:    time.Duration(cfg.API.CacheTTLSec) * time.Second,
		tickers:     make(map[string]cachedTicker),
	}

	if cfg.HasCredentials() && nm != nil {
		signer, err := NewSigner(cfg.API.Key, cfg.API.Secret)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	}

	return c, nil
}

// Close releases resources and wipes key material.
func (c *Client) Close() {
	c.httpc.CloseIdleConnections()
	c.signer.Wipe()
}

// BreakerState exposes the breaker snapshot for monitoring.
func (c *Client) BreakerState() infra.BreakerState {
	return c.breaker.GetState()
}

// call runs one endpoint through limiter, breaker and the retry loop.
// The request (including the nonce) is rebuilt on every attempt, so a
// nonce-error retry always carries a fresh value.
func (c *Client) call(ctx context.Context, endpoint string, form url.Values, private bool, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		err := c.breaker.Do(func() error {
			return c.doOnce(ctx, endpoint, form, private, out)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, infra.ErrCircuitOpen) {
			return err
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return err
		}
		if attempt+1 >= maxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", maxRetries, err)
		}

		delay := infra.BackoffWithJitter(attempt, retryBase, retryMax)
		slog.Warn("Retryable API error, backing off",
			slog.String("endpoint", endpoint),
			slog.String("kind", apiErr.Kind.String()),
			slog.Duration("delay", delay),
			slog.Int("attempt", attempt+1))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// doOnce performs a single HTTP round trip and interprets the envelope.
func (c *Client) doOnce(ctx context.Context, endpoint string, form url.Values, private bool, out any) error {
	var req *http.Request
	var err error

	if private {
		if c.signer == nil {
			return ErrNoCredentials
		}

		n, nerr := c.nonce.Next()
		if nerr != nil {
			return fmt.Errorf("issue nonce: %w", nerr)
		}
		nonce := strconv.FormatInt(n, 10)

		// Copy so retries never see a stale nonce from a prior attempt.
		signed := url.Values{}
		for k, v := range form {
			signed[k] = v
		}
		signed.Set("nonce", nonce)
		if c.nonceWindow > 0 {
			signed.Set("window", strconv.Itoa(c.nonceWindow))
		}

		body := signed.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+endpoint, strings.NewReader(body))
		if err != nil {
			return err
		}
		for k, v := range c.signer.Headers(endpoint, nonce, signed) {
			req.Header.Set(k, v)
		}
	} else {
		u := c.baseURL + endpoint
		if len(form) > 0 {
			u += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return NetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NetworkError(endpoint, err)
	}
	if resp.StatusCode >= 500 {
		return NetworkError(endpoint, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data, 200)))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return NetworkError(endpoint, fmt.Errorf("malformed response: %w", err))
	}
	if len(env.Error) > 0 {
		apiErr := Classify(endpoint, strings.Join(env.Error, ", "))
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	if resp.StatusCode >= 400 {
		return Classify(endpoint, fmt.Sprintf("http %d", resp.StatusCode))
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", endpoint, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ----- Public endpoints -----

// SystemStatus returns venue availability.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	if err := c.call(ctx, "/0/public/SystemStatus", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTicker returns the level-1 snapshot for one venue pair. Results are
// cached per pair for the configured TTL; a cache hit skips the network
// entirely (and the rate limiter with it).
func (c *Client) GetTicker(ctx context.Context, pair string) (Ticker, error) {
	c.mu.Lock()
	if hit, ok := c.tickers[pair]; ok && time.Since(hit.fetched) < c.cacheTTL {
		c.mu.Unlock()
		return hit.ticker, nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("pair", pair)

	var raw map[string]rawTicker
	if err := c.call(ctx, "/0/public/Ticker", form, false, &raw); err != nil {
		return Ticker{}, err
	}
	for _, rt := range raw {
		t, err := rt.toTicker()
		if err != nil {
			return Ticker{}, fmt.Errorf("parse ticker %s: %w", pair, err)
		}
		c.mu.Lock()
		c.tickers[pair] = cachedTicker{ticker: t, fetched: time.Now()}
		c.mu.Unlock()
		return t, nil
	}
	return Ticker{}, Classify("/0/public/Ticker", "EQuery:Unknown asset pair")
}

// GetOHLC returns bars for one pair at the given interval in minutes.
func (c *Client) GetOHLC(ctx context.Context, pair string, interval int) ([]Candle, error) {
	form := url.Values{}
	form.Set("pair", pair)
	form.Set("interval", strconv.Itoa(interval))

	var raw map[string]json.RawMessage
	if err := c.call(ctx, "/0/public/OHLC", form, false, &raw); err != nil {
		return nil, err
	}
	for key, val := range raw {
		if key == "last" {
			continue
		}
		var candles []Candle
		if err := json.Unmarshal(val, &candles); err != nil {
			return nil, fmt.Errorf("decode OHLC %s: %w", pair, err)
		}
		return candles, nil
	}
	return nil, nil
}

// GetDepth returns the order book for one pair, limited to count levels.
func (c *Client) GetDepth(ctx context.Context, pair string, count int) (*OrderBook, error) {
	form := url.Values{}
	form.Set("pair", pair)
	if count > 0 {
		form.Set("count", strconv.Itoa(count))
	}

	var raw map[string]OrderBook
	if err := c.call(ctx, "/0/public/Depth", form, false, &raw); err != nil {
		return nil, err
	}
	for _, book := range raw {
		b := book
		return &b, nil
	}
	return nil, Classify("/0/public/Depth", "EQuery:Unknown asset pair")
}

// GetRecentTrades returns recent public trades for one pair.
func (c *Client) GetRecentTrades(ctx context.Context, pair string) ([]PublicTrade, error) {
	form := url.Values{}
	form.Set("pair", pair)

	var raw map[string]json.RawMessage
	if err := c.call(ctx, "/0/public/Trades", form, false, &raw); err != nil {
		return nil, err
	}
	for key, val := range raw {
		if key == "last" {
			continue
		}
		var trades []PublicTrade
		if err := json.Unmarshal(val, &trades); err != nil {
			return nil, fmt.Errorf("decode trades %s: %w", pair, err)
		}
		return trades, nil
	}
	return nil, nil
}

// GetAssetPairs returns pair metadata, optionally filtered.
func (c *Client) GetAssetPairs(ctx context.Context, pairs ...string) (map[string]AssetPairInfo, error) {
	form := url.Values{}
	if len(pairs) > 0 {
		form.Set("pair", strings.Join(pairs, ","))
	}

	var out map[string]AssetPairInfo
	if err := c.call(ctx, "/0/public/AssetPairs", form, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ----- Private endpoints -----

// GetBalance returns per-asset balances.
func (c *Client) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := c.call(ctx, "/0/private/Balance", url.Values{}, true, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for asset, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s=%q: %w", asset, v, err)
		}
		out[asset] = d
	}
	return out, nil
}

// GetTradeBalance returns the account margin summary in the given asset.
func (c *Client) GetTradeBalance(ctx context.Context, asset string) (*TradeBalance, error) {
	form := url.Values{}
	if asset != "" {
		form.Set("asset", asset)
	}

	var out TradeBalance
	if err := c.call(ctx, "/0/private/TradeBalance", form, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOpenOrders returns all open orders keyed by transaction id.
func (c *Client) GetOpenOrders(ctx context.Context) (map[string]OrderInfo, error) {
	var out openOrdersResult
	if err := c.call(ctx, "/0/private/OpenOrders", url.Values{}, true, &out); err != nil {
		return nil, err
	}
	return out.Open, nil
}

// GetClosedOrders returns recently closed orders and the total count.
func (c *Client) GetClosedOrders(ctx context.Context) (map[string]OrderInfo, int, error) {
	var out closedOrdersResult
	if err := c.call(ctx, "/0/private/ClosedOrders", url.Values{}, true, &out); err != nil {
		return nil, 0, err
	}
	return out.Closed, out.Count, nil
}

// GetTradesHistory returns the account's fill history.
func (c *Client) GetTradesHistory(ctx context.Context) (map[string]TradeInfo, int, error) {
	var out tradesHistoryResult
	if err := c.call(ctx, "/0/private/TradesHistory", url.Values{}, true, &out); err != nil {
		return nil, 0, err
	}
	return out.Trades, out.Count, nil
}

// GetOpenPositions returns open margin positions keyed by transaction id.
func (c *Client) GetOpenPositions(ctx context.Context) (map[string]PositionInfo, error) {
	var out map[string]PositionInfo
	if err := c.call(ctx, "/0/private/OpenPositions", url.Values{}, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddOrder submits (or, with Validate set, dry-runs) an order.
func (c *Client) AddOrder(ctx context.Context, req OrderRequest) (*AddOrderResult, error) {
	form := url.Values{}
	form.Set("pair", req.Pair)
	form.Set("type", req.Side)
	form.Set("ordertype", req.OrderType)
	form.Set("volume", req.Volume.String())
	if req.OrderType == "limit" {
		form.Set("price", req.Price.String())
	}
	if req.UserRef != 0 {
		form.Set("userref", strconv.FormatInt(int64(req.UserRef), 10))
	}
	if req.Validate {
		form.Set("validate", "true")
	}

	var out AddOrderResult
	if err := c.call(ctx, "/0/private/AddOrder", form, true, &out); err != nil {
		return nil, err
	}

	slog.Info("Order accepted by venue",
		slog.String("pair", req.Pair),
		slog.String("side", req.Side),
		slog.String("type", req.OrderType),
		slog.Bool("validate", req.Validate),
		slog.Any("txid", out.TxID))
	return &out, nil
}

// CancelOrder cancels one order by transaction id.
func (c *Client) CancelOrder(ctx context.Context, txid string) (int, error) {
	form := url.Values{}
	form.Set("txid", txid)

	var out CancelResult
	if err := c.call(ctx, "/0/private/CancelOrder", form, true, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// CancelAll cancels every open order.
func (c *Client) CancelAll(ctx context.Context) (int, error) {
	var out CancelResult
	if err := c.call(ctx, "/0/private/CancelAll", url.Values{}, true, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// GetWebSocketsToken fetches a token authorizing private websocket channels.
func (c *Client) GetWebSocketsToken(ctx context.Context) (*WebSocketsToken, error) {
	var out WebSocketsToken
	if err := c.call(ctx, "/0/private/GetWebSocketsToken", url.Values{}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
