package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances manually; sleep jumps the clock forward.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

func newTestLimiter(maxCalls int, window time.Duration) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := NewLimiter(maxCalls, window)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestLimiterGrantsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Acquire(ctx, false)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Acquire(ctx, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), l.Blocked())
	assert.Equal(t, 0, l.Remaining())
}

func TestLimiterWaitBlocksUntilWindowOpens(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)
	ctx := context.Background()
	start := clock.Now()

	for i := 0; i < 3; i++ {
		ok, err := l.Acquire(ctx, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Fourth call must wait until the first admission leaves the window.
	ok, err := l.Acquire(ctx, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, clock.Now().Sub(start))
}

func TestLimiterWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, false)
	require.True(t, ok)
	clock.Advance(30 * time.Second)
	ok, _ = l.Acquire(ctx, false)
	require.True(t, ok)

	ok, _ = l.Acquire(ctx, false)
	assert.False(t, ok)

	// After the first call ages out, one slot opens.
	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Remaining())
	ok, _ = l.Acquire(ctx, false)
	assert.True(t, ok)
}

func TestLimiterNeverExceedsMaxConcurrently(t *testing.T) {
	l := NewLimiter(50, time.Minute)
	ctx := context.Background()

	var granted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Acquire(ctx, false)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), granted)
	assert.Equal(t, int64(150), l.Blocked())
}

func TestLimiterResetTime(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)
	ctx := context.Background()

	assert.Equal(t, clock.Now(), l.ResetTime())

	_, err := l.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), l.ResetTime())
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	ok, err := l.Acquire(ctx, false)
	require.NoError(t, err)
	require.True(t, ok)

	cancel()
	ok, err = l.Acquire(ctx, true)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
