package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// rateLimitSignatures are substrings that mark an error as a rate-limit
// rejection from the exchange, warranting a longer backoff.
var rateLimitSignatures = []string{
	"429",
	"rate limit",
	"too many",
	"access too frequent",
	"exceeded",
}

// Policy is an explicit retry policy: bounded attempts with exponential
// backoff, doubling the delay each attempt. Rate-limit failures back off
// RateLimitMult times longer.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RateLimitMult float64

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used for exchange calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		RateLimitMult: 3,
	}
}

// Do runs fn up to MaxAttempts times, backing off between attempts. The last
// error is returned, wrapped with the operation name, once attempts are
// exhausted. ctx cancellation aborts the wait between attempts.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt-1, lastErr)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("ratelimit: %s aborted: %w", op, err)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("ratelimit: %s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

// delay computes the backoff before attempt n+1 given the previous error.
func (p Policy) delay(n int, err error) time.Duration {
	d := p.BaseDelay << uint(n)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if IsRateLimitError(err) && p.RateLimitMult > 1 {
		d = time.Duration(float64(d) * p.RateLimitMult)
	}
	return d
}

// IsRateLimitError reports whether the error text matches a known
// rate-limit signature.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
