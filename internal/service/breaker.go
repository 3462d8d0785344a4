package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerConfig holds the trip thresholds for the circuit breaker.
type BreakerConfig struct {
	MaxConsecutiveLosses int
	MaxDailyLossPct      float64
	MaxAPIFailures       int
	Cooldown             time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxConsecutiveLosses: 5,
		MaxDailyLossPct:      3.0,
		MaxAPIFailures:       10,
		Cooldown:             30 * time.Minute,
	}
}

// BreakerState is a snapshot of the breaker's counters.
type BreakerState struct {
	ConsecutiveLosses int
	DailyPnL          float64
	DailyPnLPct       float64
	APIFailures       int
	Tripped           bool
	TripReason        string
	TrippedAt         time.Time
}

// CircuitBreaker is the global safety switch. It trips on consecutive
// losses, on the daily realized loss percentage, or on consecutive API
// failures, and re-arms automatically once the cooldown elapses or on an
// explicit reset. Daily counters reset on local-date rollover.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	// onTrip is invoked once per trip with the human-readable reason.
	onTrip func(reason string)

	mu                sync.Mutex
	consecutiveLosses int
	dailyPnL          float64
	dailyCapital      float64
	apiFailures       int
	tripped           bool
	tripReason        string
	trippedAt         time.Time
	day               string

	now func() time.Time
}

// NewCircuitBreaker creates an armed breaker.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "circuit_breaker")),
		now:    time.Now,
	}
}

// SetTripAlert registers a callback fired once per trip.
func (cb *CircuitBreaker) SetTripAlert(fn func(reason string)) {
	cb.mu.Lock()
	cb.onTrip = fn
	cb.mu.Unlock()
}

// SetDailyCapital records the equity base used to express the daily P&L as
// a percentage. Called by the app at startup and on date rollover.
func (cb *CircuitBreaker) SetDailyCapital(v float64) {
	cb.mu.Lock()
	cb.dailyCapital = v
	cb.mu.Unlock()
}

// CanTrade reports whether trading is permitted. A tripped breaker re-arms
// here once the cooldown has elapsed, clearing all counters.
func (cb *CircuitBreaker) CanTrade() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollover()

	if !cb.tripped {
		return true
	}
	if cb.now().Sub(cb.trippedAt) >= cb.cfg.Cooldown {
		cb.logger.Info("cooldown elapsed, re-arming",
			slog.String("reason", cb.tripReason),
		)
		cb.resetLocked()
		return true
	}
	return false
}

// RecordTrade feeds a realized trade P&L into the breaker.
func (cb *CircuitBreaker) RecordTrade(pnl float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollover()
	cb.dailyPnL += pnl
	if pnl < 0 {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}
	cb.evaluate()
}

// RecordAPIFailure counts one failed exchange call.
func (cb *CircuitBreaker) RecordAPIFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollover()
	cb.apiFailures++
	cb.evaluate()
}

// RecordAPISuccess decrements the failure counter. A success does not reset
// it outright, so a flapping API still accumulates toward the threshold.
func (cb *CircuitBreaker) RecordAPISuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.apiFailures > 0 {
		cb.apiFailures--
	}
}

// Reset explicitly re-arms the breaker and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetLocked()
}

// State returns a snapshot of the current counters.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerState{
		ConsecutiveLosses: cb.consecutiveLosses,
		DailyPnL:          cb.dailyPnL,
		DailyPnLPct:       cb.dailyPnLPct(),
		APIFailures:       cb.apiFailures,
		Tripped:           cb.tripped,
		TripReason:        cb.tripReason,
		TrippedAt:         cb.trippedAt,
	}
}

// evaluate trips on the first matching condition. Caller holds cb.mu.
func (cb *CircuitBreaker) evaluate() {
	if cb.tripped {
		return
	}
	switch {
	case cb.consecutiveLosses >= cb.cfg.MaxConsecutiveLosses:
		cb.trip(fmt.Sprintf("%d consecutive losses", cb.consecutiveLosses))
	case cb.dailyPnLPct() <= -cb.cfg.MaxDailyLossPct:
		cb.trip(fmt.Sprintf("daily loss %.2f%%", -cb.dailyPnLPct()))
	case cb.apiFailures >= cb.cfg.MaxAPIFailures:
		cb.trip(fmt.Sprintf("%d api failures", cb.apiFailures))
	}
}

// trip records the trip and emits a single alert. Caller holds cb.mu.
func (cb *CircuitBreaker) trip(reason string) {
	cb.tripped = true
	cb.tripReason = reason
	cb.trippedAt = cb.now()
	cb.logger.Warn("circuit breaker tripped", slog.String("reason", reason))
	if cb.onTrip != nil {
		go cb.onTrip(reason)
	}
}

// rollover clears daily counters when the local date changes. Caller holds
// cb.mu.
func (cb *CircuitBreaker) rollover() {
	today := cb.now().Format("2006-01-02")
	if cb.day == today {
		return
	}
	cb.day = today
	cb.dailyPnL = 0
	cb.apiFailures = 0
}

// resetLocked clears all counters and the trip state. Caller holds cb.mu.
func (cb *CircuitBreaker) resetLocked() {
	cb.consecutiveLosses = 0
	cb.dailyPnL = 0
	cb.apiFailures = 0
	cb.tripped = false
	cb.tripReason = ""
	cb.trippedAt = time.Time{}
}

func (cb *CircuitBreaker) dailyPnLPct() float64 {
	if cb.dailyCapital <= 0 {
		return 0
	}
	return cb.dailyPnL / cb.dailyCapital * 100
}
