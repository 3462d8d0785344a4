package redis

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollFloor bounds how tightly a blocked Acquire polls when the computed
// reset time is in the immediate past.
const waitPollFloor = 50 * time.Millisecond

// CallLimiter implements domain.CallLimiter with a sliding window shared
// across processes, backed by a Redis sorted set and an atomic Lua script.
// Use it instead of the in-memory limiter when several bot instances share
// one exchange API key.
type CallLimiter struct {
	rdb    *redis.Client
	script *redis.Script

	key      string
	maxCalls int
	window   time.Duration

	// Last observed window state, refreshed on every Acquire.
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// NewCallLimiter creates a shared limiter granting at most maxCalls per
// window under the given key (one key per API credential).
func NewCallLimiter(c *Client, key string, maxCalls int, window time.Duration) *CallLimiter {
	return &CallLimiter{
		rdb:       c.Underlying(),
		script:    redis.NewScript(slidingWindowLua),
		key:       "ratelimit:" + key,
		maxCalls:  maxCalls,
		window:    window,
		remaining: maxCalls,
		resetAt:   time.Now(),
	}
}

// Acquire requests one admission. With wait=false it returns immediately,
// false when the shared window is full. With wait=true it blocks until the
// oldest admission leaves the window or ctx is cancelled.
func (cl *CallLimiter) Acquire(ctx context.Context, wait bool) (bool, error) {
	for {
		allowed, resetAt, err := cl.tryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
		if !wait {
			return false, nil
		}

		delay := time.Until(resetAt)
		if delay < waitPollFloor {
			delay = waitPollFloor
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (cl *CallLimiter) tryAcquire(ctx context.Context) (bool, time.Time, error) {
	now := time.Now()
	result, err := cl.script.Run(
		ctx,
		cl.rdb,
		[]string{cl.key},
		now.UnixMicro(),
		cl.window.Microseconds(),
		cl.maxCalls,
		uuid.New().String(),
	).Int64Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("redis: call limiter %s: %w", cl.key, err)
	}
	if len(result) < 3 {
		return false, time.Time{}, fmt.Errorf("redis: call limiter %s: unexpected result length %d", cl.key, len(result))
	}

	resetAt := time.UnixMicro(result[2])

	cl.mu.Lock()
	cl.remaining = int(result[1])
	cl.resetAt = resetAt
	cl.mu.Unlock()

	return result[0] == 1, resetAt, nil
}

// Remaining returns the admissions left in the window as of the last Acquire.
func (cl *CallLimiter) Remaining() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.remaining
}

// ResetTime returns when the oldest in-window admission expires, as of the
// last Acquire.
func (cl *CallLimiter) ResetTime() time.Time {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.resetAt
}

// Compile-time interface check.
var _ domain.CallLimiter = (*CallLimiter)(nil)
