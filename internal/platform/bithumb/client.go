// Package bithumb is the REST client for the exchange. Every call flows
// through the shared rate limiter and retry policy; read endpoints are
// served from short-lived caches so a busy sweep does not hammer the API.
package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bithumbbot/internal/cache/memory"
	"github.com/alanyoungcy/bithumbbot/internal/crypto"
	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/alanyoungcy/bithumbbot/internal/ratelimit"
)

// HealthRecorder receives the outcome of every exchange call. It is how the
// circuit breaker's API-failure counter gets fed.
type HealthRecorder interface {
	RecordAPISuccess()
	RecordAPIFailure()
}

// noopHealth is used when no recorder is wired.
type noopHealth struct{}

func (noopHealth) RecordAPISuccess() {}
func (noopHealth) RecordAPIFailure() {}

// Config holds the client's connection parameters.
type Config struct {
	BaseURL         string
	PaymentCurrency string
	Timeout         time.Duration
}

// DefaultConfig returns the production API settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.bithumb.com",
		PaymentCurrency: "KRW",
		Timeout:         30 * time.Second,
	}
}

// Client implements domain.ExchangeClient against the exchange REST API.
type Client struct {
	cfg        Config
	auth       *crypto.HMACAuth
	httpClient *http.Client
	limiter    domain.CallLimiter
	retry      ratelimit.Policy
	health     HealthRecorder
	logger     *slog.Logger

	prices   *memory.Cache
	balances *memory.Cache
	candles  *memory.Cache
}

// NewClient creates a client. auth may be nil for public-only access.
func NewClient(
	cfg Config,
	auth *crypto.HMACAuth,
	limiter domain.CallLimiter,
	retry ratelimit.Policy,
	logger *slog.Logger,
) *Client {
	return &Client{
		cfg:        cfg,
		auth:       auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		retry:      retry,
		health:     noopHealth{},
		logger:     logger.With(slog.String("component", "bithumb_client")),
		prices:     memory.New("price", 5*time.Second),
		balances:   memory.New("balance", 10*time.Second),
		candles:    memory.New("candles", 30*time.Second),
	}
}

// SetHealthRecorder wires the circuit breaker's API counters.
func (c *Client) SetHealthRecorder(h HealthRecorder) {
	if h != nil {
		c.health = h
	}
}

// Caches returns the client's read caches so the janitor can sweep them.
func (c *Client) Caches() []*memory.Cache {
	return []*memory.Cache{c.prices, c.balances, c.candles}
}

// FetchTicker returns the latest quote for the symbol, cached briefly.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	v, err := c.prices.GetOrSet(symbol, func() (any, error) {
		return c.fetchTicker(ctx, symbol)
	}, 0)
	if err != nil {
		return domain.Ticker{}, err
	}
	return v.(domain.Ticker), nil
}

func (c *Client) fetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	var resp tickerResponse
	path := fmt.Sprintf("/public/ticker/%s_%s", url.PathEscape(symbol), c.cfg.PaymentCurrency)
	if err := c.publicGet(ctx, "fetch_ticker", path, &resp); err != nil {
		return domain.Ticker{}, fmt.Errorf("bithumb: fetch ticker %s: %w", symbol, err)
	}

	ts := time.Now()
	if ms, err := strconv.ParseInt(resp.Data.Date, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}
	return domain.Ticker{
		Symbol:    symbol,
		Last:      parseNum(resp.Data.ClosingPrice),
		Bid:       parseNum(resp.Data.BuyPrice),
		Ask:       parseNum(resp.Data.SellPrice),
		Volume:    parseNum(resp.Data.UnitsTraded),
		Timestamp: ts,
	}, nil
}

// FetchOHLCV returns up to limit most recent candles for the timeframe
// (exchange intervals: 1m, 3m, 5m, 10m, 30m, 1h, 6h, 12h, 24h).
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	key := fmt.Sprintf("%s:%s:%d", symbol, timeframe, limit)
	v, err := c.candles.GetOrSet(key, func() (any, error) {
		return c.fetchOHLCV(ctx, symbol, timeframe, limit)
	}, 0)
	if err != nil {
		return nil, err
	}
	return v.([]domain.Candle), nil
}

func (c *Client) fetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	var resp candleResponse
	path := fmt.Sprintf("/public/candlestick/%s_%s/%s",
		url.PathEscape(symbol), c.cfg.PaymentCurrency, url.PathEscape(timeframe))
	if err := c.publicGet(ctx, "fetch_ohlcv", path, &resp); err != nil {
		return nil, fmt.Errorf("bithumb: fetch ohlcv %s %s: %w", symbol, timeframe, err)
	}

	rows := resp.Data
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: time.UnixMilli(int64(parseNum(row[0]))),
			Open:      parseNum(row[1]),
			Close:     parseNum(row[2]),
			High:      parseNum(row[3]),
			Low:       parseNum(row[4]),
			Volume:    parseNum(row[5]),
		})
	}
	return candles, nil
}

// FetchBalance returns every currency's balance, cached briefly. Order
// submissions invalidate the cache.
func (c *Client) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	v, err := c.balances.GetOrSet("ALL", func() (any, error) {
		return c.fetchBalance(ctx)
	}, 0)
	if err != nil {
		return nil, err
	}
	return v.(map[string]domain.Balance), nil
}

func (c *Client) fetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	params := url.Values{}
	params.Set("currency", "ALL")

	var resp balanceResponse
	if err := c.signedPost(ctx, "fetch_balance", "/info/balance", params, &resp); err != nil {
		return nil, fmt.Errorf("bithumb: fetch balance: %w", err)
	}

	balances := make(map[string]domain.Balance)
	for key, raw := range resp.Data {
		name, cur, ok := strings.Cut(key, "_")
		if !ok {
			continue
		}
		cur = strings.ToUpper(cur)
		b := balances[cur]
		switch name {
		case "available":
			b.Free = parseNum(raw)
		case "in_use":
			b.Used = parseNum(raw)
		case "total":
			b.Total = parseNum(raw)
		default:
			continue
		}
		balances[cur] = b
	}
	return balances, nil
}

// AverageBuyPrice derives the average cost of the currently held quantity
// from recent buy fills. Returns ErrNotFound when the fill history holds no
// buys for the symbol.
func (c *Client) AverageBuyPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("order_currency", symbol)
	params.Set("payment_currency", c.cfg.PaymentCurrency)
	params.Set("searchGb", "1") // completed buys
	params.Set("count", "50")

	var resp transactionsResponse
	if err := c.signedPost(ctx, "user_transactions", "/info/user_transactions", params, &resp); err != nil {
		return 0, fmt.Errorf("bithumb: average buy price %s: %w", symbol, err)
	}

	var units, notional float64
	for _, tx := range resp.Data {
		q := parseNum(tx.Units)
		p := parseNum(tx.Price)
		if q <= 0 || p <= 0 {
			continue
		}
		units += q
		notional += q * p
	}
	if units <= 0 {
		return 0, fmt.Errorf("bithumb: average buy price %s: no buy fills: %w", symbol, domain.ErrNotFound)
	}
	return notional / units, nil
}

// CreateMarketBuy submits a market buy for qty units of the symbol.
func (c *Client) CreateMarketBuy(ctx context.Context, symbol string, qty float64) (domain.OrderResult, error) {
	params := url.Values{}
	params.Set("units", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("order_currency", symbol)
	params.Set("payment_currency", c.cfg.PaymentCurrency)
	return c.submitOrder(ctx, "market_buy", "/trade/market_buy", symbol, domain.OrderSideBuy, qty, params)
}

// CreateMarketSell submits a market sell for qty units of the symbol.
func (c *Client) CreateMarketSell(ctx context.Context, symbol string, qty float64) (domain.OrderResult, error) {
	params := url.Values{}
	params.Set("units", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("order_currency", symbol)
	params.Set("payment_currency", c.cfg.PaymentCurrency)
	return c.submitOrder(ctx, "market_sell", "/trade/market_sell", symbol, domain.OrderSideSell, qty, params)
}

// CreateLimitBuy places a limit bid.
func (c *Client) CreateLimitBuy(ctx context.Context, symbol string, qty, price float64) (domain.OrderResult, error) {
	params := c.limitParams(symbol, qty, price, "bid")
	res, err := c.submitOrder(ctx, "limit_buy", "/trade/place", symbol, domain.OrderSideBuy, qty, params)
	if err != nil {
		return res, err
	}
	res.Price = price
	return res, nil
}

// CreateLimitSell places a limit ask.
func (c *Client) CreateLimitSell(ctx context.Context, symbol string, qty, price float64) (domain.OrderResult, error) {
	params := c.limitParams(symbol, qty, price, "ask")
	res, err := c.submitOrder(ctx, "limit_sell", "/trade/place", symbol, domain.OrderSideSell, qty, params)
	if err != nil {
		return res, err
	}
	res.Price = price
	return res, nil
}

func (c *Client) limitParams(symbol string, qty, price float64, side string) url.Values {
	params := url.Values{}
	params.Set("order_currency", symbol)
	params.Set("payment_currency", c.cfg.PaymentCurrency)
	params.Set("units", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("type", side)
	return params
}

// submitOrder sends the order with a fresh client ID and invalidates the
// balance cache on success. The client ID lets a retried submission be
// reconciled against the exchange's order list instead of double-executing.
func (c *Client) submitOrder(ctx context.Context, op, endpoint, symbol string, side domain.OrderSide, qty float64, params url.Values) (domain.OrderResult, error) {
	clientID := uuid.New().String()
	params.Set("client_order_id", clientID)

	var resp orderResponse
	if err := c.signedPost(ctx, op, endpoint, params, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("bithumb: %s %s: %w", op, symbol, err)
	}

	c.balances.Delete("ALL")
	c.logger.InfoContext(ctx, "order submitted",
		slog.String("op", op),
		slog.String("symbol", symbol),
		slog.String("order_id", resp.OrderID),
		slog.Float64("qty", qty),
	)
	return domain.OrderResult{
		OrderID:  resp.OrderID,
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Status:   "placed",
	}, nil
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// publicGet performs an unauthenticated GET under the limiter and retry
// policy.
func (c *Client) publicGet(ctx context.Context, op, path string, out any) error {
	return c.call(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return c.send(req, out)
	})
}

// signedPost performs an HMAC-authenticated POST under the limiter and
// retry policy.
func (c *Client) signedPost(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	if c.auth == nil {
		return fmt.Errorf("%s: API credentials not configured", op)
	}
	params.Set("endpoint", endpoint)
	body := params.Encode()

	return c.call(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		for k, v := range c.auth.Headers(endpoint, body) {
			req.Header.Set(k, v)
		}
		return c.send(req, out)
	})
}

// call wraps one logical API operation: a limiter slot per attempt, the
// retry policy across attempts, and a health record of the final outcome.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	err := c.retry.Do(ctx, op, func() error {
		if c.limiter != nil {
			if _, err := c.limiter.Acquire(ctx, true); err != nil {
				return err
			}
		}
		return fn()
	})
	if err != nil {
		c.health.RecordAPIFailure()
		return err
	}
	c.health.RecordAPISuccess()
	return nil
}

// send executes the request and decodes the enveloped response.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP 429: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Status != statusOK {
		return fmt.Errorf("api status %s: %s", envelope.Status, envelope.Message)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
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

var _ domain.ExchangeClient = (*Client)(nil)
