package service

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// Slippage severity thresholds as absolute price deviation fractions.
const (
	slippageWarning  = 0.005
	slippageCritical = 0.01
	slippageHistory  = 100
)

// SlippageSummary aggregates the recorded observations.
type SlippageSummary struct {
	Count     int
	AvgPct    float64
	WorstPct  float64
	Warnings  int
	Criticals int
}

// SlippageTracker keeps a bounded, append-only history of expected-vs-actual
// fill prices. Reporting only; never on the order path's critical section.
type SlippageTracker struct {
	logger *slog.Logger

	mu      sync.Mutex
	history []domain.SlippageRecord

	now func() time.Time
}

// NewSlippageTracker creates an empty tracker.
func NewSlippageTracker(logger *slog.Logger) *SlippageTracker {
	return &SlippageTracker{
		logger: logger.With(slog.String("component", "slippage_tracker")),
		now:    time.Now,
	}
}

// Record grades and stores one observation. The oldest entry is dropped once
// the history holds 100 records.
func (t *SlippageTracker) Record(symbol string, side domain.OrderSide, expected, actual, qty float64) domain.SlippageRecord {
	rec := domain.SlippageRecord{
		Symbol:        symbol,
		Side:          side,
		ExpectedPrice: expected,
		ActualPrice:   actual,
		Quantity:      qty,
		Severity:      domain.SlippageNormal,
		Timestamp:     t.now(),
	}
	if expected > 0 {
		rec.SlippagePct = (actual - expected) / expected
	}

	abs := math.Abs(rec.SlippagePct)
	switch {
	case abs >= slippageCritical:
		rec.Severity = domain.SlippageCritical
	case abs >= slippageWarning:
		rec.Severity = domain.SlippageWarning
	}

	if rec.Severity != domain.SlippageNormal {
		t.logger.Warn("slippage above threshold",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Float64("slippage_pct", rec.SlippagePct*100),
			slog.String("severity", string(rec.Severity)),
		)
	}

	t.mu.Lock()
	t.history = append(t.history, rec)
	if len(t.history) > slippageHistory {
		t.history = t.history[len(t.history)-slippageHistory:]
	}
	t.mu.Unlock()
	return rec
}

// Summary returns aggregate statistics over the retained history.
func (t *SlippageTracker) Summary() SlippageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := SlippageSummary{Count: len(t.history)}
	if s.Count == 0 {
		return s
	}

	var total float64
	for _, rec := range t.history {
		abs := math.Abs(rec.SlippagePct)
		total += abs
		if abs > s.WorstPct {
			s.WorstPct = abs
		}
		switch rec.Severity {
		case domain.SlippageWarning:
			s.Warnings++
		case domain.SlippageCritical:
			s.Criticals++
		}
	}
	s.AvgPct = total / float64(s.Count)
	return s
}
