package domain

import (
	"context"
	"time"
)

// CallLimiter bounds outbound exchange calls with a sliding window.
// Acquire with wait=false returns immediately; with wait=true it blocks until
// a slot opens or the context is cancelled.
type CallLimiter interface {
	Acquire(ctx context.Context, wait bool) (bool, error)
	Remaining() int
	ResetTime() time.Time
}

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// LockManager hands out distributed locks so only one process runs an
// exclusive task (position sweep, archival) at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for cross-process events
// (trade fills, breaker trips, reconciliation reports).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
