package feed

import (
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// DefaultStaleAfter is how long a stored price stays usable without a
// fresh update. Readers fall back to the REST ticker past this cutoff.
const DefaultStaleAfter = 30 * time.Second

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceStore holds the latest observed price per symbol, fed by the websocket
// ticker stream. Prices older than the staleness cutoff are not served, so a
// dead stream degrades to REST lookups instead of trading on frozen quotes.
type PriceStore struct {
	staleAfter time.Duration

	mu     sync.RWMutex
	points map[string]pricePoint

	now func() time.Time
}

// Compile-time interface check.
var _ domain.PriceFeed = (*PriceStore)(nil)

// NewPriceStore creates an empty store. staleAfter <= 0 uses DefaultStaleAfter.
func NewPriceStore(staleAfter time.Duration) *PriceStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &PriceStore{
		staleAfter: staleAfter,
		points:     make(map[string]pricePoint),
		now:        time.Now,
	}
}

// Set records the latest price for symbol. Updates older than the currently
// stored point are ignored.
func (s *PriceStore) Set(symbol string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.points[symbol]; ok && ts.Before(cur.ts) {
		return
	}
	s.points[symbol] = pricePoint{price: price, ts: ts}
}

// Price returns the latest price for symbol, or false when no fresh price
// is available.
func (s *PriceStore) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	pt, ok := s.points[symbol]
	s.mu.RUnlock()

	if !ok {
		return 0, false
	}
	if s.now().Sub(pt.ts) > s.staleAfter {
		return 0, false
	}
	return pt.price, true
}

// Age returns how long ago the symbol's price was last updated, or false
// when the symbol has never been seen.
func (s *PriceStore) Age(symbol string) (time.Duration, bool) {
	s.mu.RLock()
	pt, ok := s.points[symbol]
	s.mu.RUnlock()

	if !ok {
		return 0, false
	}
	return s.now().Sub(pt.ts), true
}
