package domain

import (
	"context"
	"time"
)

// Balance is one currency's balance on the exchange.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// Ticker is a point-in-time quote for a symbol.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Volume    float64
	Timestamp time.Time
}

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderResult is the exchange's acknowledgement of a submitted order.
// Price and Quantity are the actual fill values when the exchange reports
// them; callers fall back to the expected values when they are zero.
type OrderResult struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     OrderSide
	Price    float64
	Quantity float64
	Status   string
}

// OrderSide distinguishes buys from sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ExchangeClient is the narrow surface of the exchange REST API the engine
// consumes. Implementations wrap every call with the rate limiter and retry
// policy.
type ExchangeClient interface {
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	AverageBuyPrice(ctx context.Context, symbol string) (float64, error)
	CreateMarketBuy(ctx context.Context, symbol string, qty float64) (OrderResult, error)
	CreateMarketSell(ctx context.Context, symbol string, qty float64) (OrderResult, error)
	CreateLimitBuy(ctx context.Context, symbol string, qty, price float64) (OrderResult, error)
	CreateLimitSell(ctx context.Context, symbol string, qty, price float64) (OrderResult, error)
}

// PriceFeed provides the latest observed price per symbol, typically fed by
// the websocket ticker stream.
type PriceFeed interface {
	Price(symbol string) (float64, bool)
}
