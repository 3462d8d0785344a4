package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// DecisionDedup suppresses repeat execution of the same decision for a
// symbol within a TTL window. The decision loop can emit the same buy or
// sell recommendation on consecutive ticks; only the first within the window
// acts.
type DecisionDedup struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// NewDecisionDedup creates a dedup window of the given TTL.
func NewDecisionDedup(ttl time.Duration) *DecisionDedup {
	return &DecisionDedup{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsDuplicate reports whether the same action for the symbol was already
// executed within the TTL. A fresh (or expired) pair is recorded and reported
// as not duplicate.
func (d *DecisionDedup) IsDuplicate(symbol string, action domain.DecisionAction) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := symbol + ":" + string(action)
	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup evicts expired entries. Called periodically from the engine's
// sweep ticker.
func (d *DecisionDedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
