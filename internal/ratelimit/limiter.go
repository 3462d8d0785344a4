// Package ratelimit bounds outbound exchange calls with an in-process
// sliding window and provides the retry policy used around every API call.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// Limiter is a sliding-window call limiter. At most maxCalls admissions are
// granted inside any trailing window. Safe for concurrent use.
type Limiter struct {
	maxCalls int
	window   time.Duration

	mu      sync.Mutex
	calls   []time.Time
	blocked int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a Limiter granting at most maxCalls per window.
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire requests one admission. With wait=false it returns immediately,
// false when the window is full. With wait=true it blocks until the oldest
// recorded call leaves the window or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, wait bool) (bool, error) {
	for {
		l.mu.Lock()
		now := l.now()
		l.purge(now)

		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return true, nil
		}

		if !wait {
			l.blocked++
			l.mu.Unlock()
			return false, nil
		}

		wakeAt := l.calls[0].Add(l.window)
		l.mu.Unlock()

		if err := l.sleep(ctx, wakeAt.Sub(now)); err != nil {
			return false, err
		}
	}
}

// Remaining returns how many admissions are currently available.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.now())
	return l.maxCalls - len(l.calls)
}

// ResetTime returns when the oldest in-window call expires. When the window
// is empty it returns the current time.
func (l *Limiter) ResetTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purge(now)
	if len(l.calls) == 0 {
		return now
	}
	return l.calls[0].Add(l.window)
}

// Blocked returns how many non-waiting Acquire calls have been rejected.
func (l *Limiter) Blocked() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked
}

// purge drops timestamps older than the trailing window. Caller holds l.mu.
func (l *Limiter) purge(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compile-time interface check.
var _ domain.CallLimiter = (*Limiter)(nil)
