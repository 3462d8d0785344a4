package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceStoreServesFreshPrices(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s := NewPriceStore(30 * time.Second)
	s.now = func() time.Time { return now }

	s.Set("BTC", 51_000_000, now)

	price, ok := s.Price("BTC")
	assert.True(t, ok)
	assert.Equal(t, 51_000_000.0, price)

	_, ok = s.Price("ETH")
	assert.False(t, ok)
}

func TestPriceStoreRejectsStalePrices(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s := NewPriceStore(30 * time.Second)
	s.now = func() time.Time { return now }

	s.Set("BTC", 51_000_000, now)

	now = now.Add(29 * time.Second)
	_, ok := s.Price("BTC")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = s.Price("BTC")
	assert.False(t, ok)

	age, seen := s.Age("BTC")
	assert.True(t, seen)
	assert.Equal(t, 31*time.Second, age)
}

func TestPriceStoreIgnoresOutOfOrderUpdates(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s := NewPriceStore(30 * time.Second)
	s.now = func() time.Time { return now }

	s.Set("BTC", 51_000_000, now)
	s.Set("BTC", 50_000_000, now.Add(-5*time.Second))

	price, ok := s.Price("BTC")
	assert.True(t, ok)
	assert.Equal(t, 51_000_000.0, price)
}

func TestPriceStoreIgnoresNonPositivePrices(t *testing.T) {
	s := NewPriceStore(0)
	s.Set("BTC", 0, time.Now())
	s.Set("BTC", -1, time.Now())

	_, ok := s.Price("BTC")
	assert.False(t, ok)
}
