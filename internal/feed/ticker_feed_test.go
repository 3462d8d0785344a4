package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (c *recordingCache) SetPrice(_ context.Context, symbol string, price float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = make(map[string]float64)
	}
	c.prices[symbol] = price
	return nil
}

func (c *recordingCache) GetPrice(context.Context, string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}

func (c *recordingCache) GetPrices(context.Context, []string) (map[string]float64, error) {
	return nil, nil
}

type recordingBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestTickerFeedUpdatesStoreCacheAndBus(t *testing.T) {
	store := NewPriceStore(time.Minute)
	cache := &recordingCache{}
	bus := &recordingBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := NewTickerFeed(nil, store, []string{"BTC"}, cache, bus, logger)

	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	f.handleTick("BTC", 51_000_000, ts)

	price, ok := store.Price("BTC")
	require.True(t, ok)
	assert.Equal(t, 51_000_000.0, price)

	cache.mu.Lock()
	assert.Equal(t, 51_000_000.0, cache.prices["BTC"])
	cache.mu.Unlock()

	bus.mu.Lock()
	require.Len(t, bus.payloads, 1)
	var sig priceSignal
	require.NoError(t, json.Unmarshal(bus.payloads[0], &sig))
	bus.mu.Unlock()
	assert.Equal(t, "BTC", sig.Symbol)
	assert.Equal(t, 51_000_000.0, sig.Price)
	assert.True(t, sig.TS.Equal(ts))
}

func TestTickerFeedWorksWithoutCacheOrBus(t *testing.T) {
	store := NewPriceStore(time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := NewTickerFeed(nil, store, []string{"ETH"}, nil, nil, logger)
	f.handleTick("ETH", 4_200_000, time.Now())

	price, ok := store.Price("ETH")
	require.True(t, ok)
	assert.Equal(t, 4_200_000.0, price)
}
