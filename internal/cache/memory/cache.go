// Package memory implements an in-process TTL cache. One named instance
// exists per call class (price, balance, candles, indicators, decisions),
// each with its own default TTL.
package memory

import (
	"context"
	"sync"
	"time"
)

// Stats are the cache's observability counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Deletes     int64
	Expirations int64
	Entries     int
}

// entry is a stored value with its lifetime bookkeeping.
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
	hits      int64
}

// Cache is a lock-protected expiring key/value store. Expiry is checked
// lazily on read; Sweep removes expired entries eagerly.
type Cache struct {
	name       string
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	stats   Stats

	now func() time.Time
}

// New creates a named Cache with the given default TTL.
func New(name string, defaultTTL time.Duration) *Cache {
	return &Cache{
		name:       name,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*entry),
		now:        time.Now,
	}
}

// Name returns the cache's instance name.
func (c *Cache) Name() string {
	return c.name
}

// Get returns the value for key. Expired entries are evicted and counted as
// misses.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}
	e.hits++
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.stats.Sets++
}

// Delete removes key. It is a no-op when the key is absent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Deletes++
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Deletes += int64(len(c.entries))
	c.entries = make(map[string]*entry)
}

// GetOrSet returns the cached value for key, or runs factory, stores its
// result with ttl, and returns it. The factory runs outside the lock; when
// two callers race, the last write wins.
func (c *Cache) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Sweep removes all expired entries and returns how many were evicted.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	c.stats.Expirations += int64(evicted)
	return evicted
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

// Janitor sweeps the given caches at the interval until ctx is cancelled.
func Janitor(ctx context.Context, interval time.Duration, caches ...*Cache) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range caches {
				c.Sweep()
			}
		}
	}
}
