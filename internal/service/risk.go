// Package service holds the engine's supporting services: the risk manager,
// the circuit breaker, the slippage tracker, and the trade logger.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// RiskConfig holds the tunable parameters for capital and limit checks.
type RiskConfig struct {
	QuoteCurrency     string
	FixedCapital      float64 // used as the capital base when > 0
	UseBalanceCapital bool    // true: capital = free quote + mark-to-market
	SafetyMargin      float64
	MinOrderNotional  float64
	FreeBalanceClamp  float64
	WeightCap         float64
	MaxDCACount       int
	DrawdownLimit     float64
	DailyLossLimit    float64
	MaxLossStreak     int

	Aggressive          bool
	AggressiveBoost     float64
	AggressiveLossMult  float64
	AggressiveMaxStreak int
}

// DefaultRiskConfig returns the baseline risk parameters.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		QuoteCurrency:       "KRW",
		UseBalanceCapital:   true,
		SafetyMargin:        0.95,
		MinOrderNotional:    5000,
		FreeBalanceClamp:    0.85,
		WeightCap:           0.25,
		MaxDCACount:         3,
		DrawdownLimit:       0.10,
		DailyLossLimit:      0.05,
		MaxLossStreak:       3,
		AggressiveBoost:     1.4,
		AggressiveLossMult:  1.8,
		AggressiveMaxStreak: 5,
	}
}

// Check is the outcome of a risk gate. Vetoes are results, not errors, so a
// sweep over many symbols never aborts on one blocked check.
type Check struct {
	Allowed bool
	Warning bool
	Reason  string
}

func allowed() Check              { return Check{Allowed: true} }
func blocked(reason string) Check { return Check{Reason: reason} }

// RiskManager computes deployable capital, enforces weight/DCA/drawdown/
// daily-loss/loss-streak limits, and sizes orders. Daily and peak equity
// state lives in memory only and restarts fresh with the process.
type RiskManager struct {
	exchange  domain.ExchangeClient
	positions domain.PositionStore
	feed      domain.PriceFeed
	cfg       RiskConfig
	logger    *slog.Logger

	mu              sync.Mutex
	day             string
	dayStartEquity  float64
	peakEquity      float64
	lossStreak      int
	marketRiskLevel float64

	now func() time.Time
}

// NewRiskManager creates a RiskManager with all required collaborators.
func NewRiskManager(
	exchange domain.ExchangeClient,
	positions domain.PositionStore,
	feed domain.PriceFeed,
	cfg RiskConfig,
	logger *slog.Logger,
) *RiskManager {
	return &RiskManager{
		exchange:  exchange,
		positions: positions,
		feed:      feed,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk_manager")),
		now:       time.Now,
	}
}

// SetMarketRiskLevel updates the 0..1 market risk gauge fed by the caller's
// regime analysis. Sizing is dampened as the level rises.
func (m *RiskManager) SetMarketRiskLevel(level float64) {
	m.mu.Lock()
	m.marketRiskLevel = level
	m.mu.Unlock()
}

// TotalCapital returns deployable capital: either the fixed configured value
// or free quote balance plus the mark-to-market value of open positions,
// scaled by the safety margin and floored at ten times the minimum order
// notional.
func (m *RiskManager) TotalCapital(ctx context.Context) (float64, error) {
	capital := m.cfg.FixedCapital
	if m.cfg.UseBalanceCapital || capital <= 0 {
		equity, err := m.equity(ctx)
		if err != nil {
			return 0, fmt.Errorf("risk: total capital: %w", err)
		}
		capital = equity
	}

	capital *= m.cfg.SafetyMargin
	if floor := m.cfg.MinOrderNotional * 10; capital < floor {
		capital = floor
	}
	return capital, nil
}

// equity is free quote balance plus mark-to-market of every open position,
// falling back to the recorded entry price when no live price is available.
func (m *RiskManager) equity(ctx context.Context) (float64, error) {
	balances, err := m.exchange.FetchBalance(ctx)
	if err != nil {
		return 0, err
	}
	equity := balances[m.cfg.QuoteCurrency].Free

	positions, err := m.positions.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, pos := range positions {
		price, ok := m.feed.Price(pos.Symbol)
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		equity += pos.Value(price)
	}
	return equity, nil
}

// CheckPositionWeightCap rejects an addition that would push the symbol's
// share of total capital past the cap. The second return value is the
// maximum additional notional still admissible.
func (m *RiskManager) CheckPositionWeightCap(ctx context.Context, symbol string, additional float64) (Check, float64, error) {
	capital, err := m.TotalCapital(ctx)
	if err != nil {
		return Check{}, 0, err
	}

	var current float64
	if pos, err := m.positions.Get(ctx, symbol); err == nil {
		price, ok := m.feed.Price(symbol)
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		current = pos.Value(price)
	}

	maxAdditional := capital*m.cfg.WeightCap - current
	if maxAdditional < 0 {
		maxAdditional = 0
	}
	if (current+additional)/capital > m.cfg.WeightCap {
		return blocked(fmt.Sprintf("weight cap %.0f%% exceeded for %s", m.cfg.WeightCap*100, symbol)), maxAdditional, nil
	}
	return allowed(), maxAdditional, nil
}

// CheckDCALimit rejects further averaging-in once the position has reached
// the configured stage count.
func (m *RiskManager) CheckDCALimit(ctx context.Context, symbol string) (Check, error) {
	pos, err := m.positions.Get(ctx, symbol)
	if err != nil {
		return Check{}, fmt.Errorf("risk: dca limit %s: %w", symbol, err)
	}
	if pos.DCAStage >= m.cfg.MaxDCACount {
		return blocked(fmt.Sprintf("dca limit reached (%d/%d)", pos.DCAStage, m.cfg.MaxDCACount)), nil
	}
	return allowed(), nil
}

// CheckDrawdown tracks the running equity peak and blocks once the decline
// from it reaches the limit. A warning is flagged at 70% of the limit.
func (m *RiskManager) CheckDrawdown(ctx context.Context) (Check, error) {
	equity, err := m.equity(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("risk: drawdown: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity <= 0 {
		return allowed(), nil
	}

	dd := (m.peakEquity - equity) / m.peakEquity
	if dd >= m.cfg.DrawdownLimit {
		m.logger.WarnContext(ctx, "drawdown limit hit",
			slog.Float64("drawdown", dd),
			slog.Float64("limit", m.cfg.DrawdownLimit),
		)
		return blocked(fmt.Sprintf("drawdown %.1f%% >= limit %.1f%%", dd*100, m.cfg.DrawdownLimit*100)), nil
	}
	if dd >= m.cfg.DrawdownLimit*0.7 {
		c := allowed()
		c.Warning = true
		c.Reason = fmt.Sprintf("drawdown %.1f%% approaching limit", dd*100)
		return c, nil
	}
	return allowed(), nil
}

// CheckDailyLoss compares current equity to the value recorded at the start
// of the local day, re-initializing on date rollover. The limit scales up in
// aggressive mode.
func (m *RiskManager) CheckDailyLoss(ctx context.Context) (Check, error) {
	equity, err := m.equity(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("risk: daily loss: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.now().Format("2006-01-02")
	if m.day != today || m.dayStartEquity <= 0 {
		m.day = today
		m.dayStartEquity = equity
		return allowed(), nil
	}

	limit := m.cfg.DailyLossLimit
	if m.cfg.Aggressive {
		limit *= m.cfg.AggressiveLossMult
	}

	loss := (m.dayStartEquity - equity) / m.dayStartEquity
	if loss >= limit {
		m.logger.WarnContext(ctx, "daily loss limit hit",
			slog.Float64("loss", loss),
			slog.Float64("limit", limit),
		)
		return blocked(fmt.Sprintf("daily loss %.1f%% >= limit %.1f%%", loss*100, limit*100)), nil
	}
	return allowed(), nil
}

// RegisterTradeResult feeds a realized P&L into the loss-streak counter.
func (m *RiskManager) RegisterTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pnl < 0 {
		m.lossStreak++
	} else {
		m.lossStreak = 0
	}
}

// CheckLossStreak blocks once the consecutive-loss counter reaches the
// configured maximum (higher in aggressive mode).
func (m *RiskManager) CheckLossStreak() Check {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := m.cfg.MaxLossStreak
	if m.cfg.Aggressive {
		max = m.cfg.AggressiveMaxStreak
	}
	if m.lossStreak >= max {
		return blocked(fmt.Sprintf("loss streak %d >= max %d", m.lossStreak, max))
	}
	return allowed()
}

// LossStreak returns the current consecutive-loss count.
func (m *RiskManager) LossStreak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lossStreak
}

// TradeAmount sizes a new order: target = capital * weightHint, then the
// aggressive boost, the market-risk dampener, the regime multiplier (zero
// vetoes outright), the time-of-day multiplier, and the discrete confidence
// tier are applied in order. The result is clamped against the weight cap
// and against 85% of the free quote balance, and floors to zero below the
// minimum order notional.
func (m *RiskManager) TradeAmount(ctx context.Context, symbol string, weightHint float64, tctx domain.TradeContext, confidence float64) (float64, error) {
	capital, err := m.TotalCapital(ctx)
	if err != nil {
		return 0, err
	}

	amount := capital * weightHint
	if m.cfg.Aggressive {
		amount *= m.cfg.AggressiveBoost
	}

	m.mu.Lock()
	riskLevel := m.marketRiskLevel
	m.mu.Unlock()
	if tctx.MarketRiskLevel > 0 {
		riskLevel = tctx.MarketRiskLevel
	}
	switch {
	case riskLevel > 0.7:
		amount *= 0.4
	case riskLevel > 0.5:
		amount *= 0.7
	}

	if tctx.RegimeMult == 0 {
		m.logger.InfoContext(ctx, "trade vetoed by regime multiplier",
			slog.String("symbol", symbol),
		)
		return 0, nil
	}
	amount *= tctx.RegimeMult

	if tctx.TimeMult > 0 {
		amount *= tctx.TimeMult
	}

	amount *= ConfidenceMultiplier(confidence)

	_, maxAdditional, err := m.CheckPositionWeightCap(ctx, symbol, 0)
	if err != nil {
		return 0, err
	}
	if amount > maxAdditional {
		amount = maxAdditional
	}

	balances, err := m.exchange.FetchBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk: trade amount %s: %w", symbol, err)
	}
	if free := balances[m.cfg.QuoteCurrency].Free * m.cfg.FreeBalanceClamp; amount > free {
		amount = free
	}

	if amount < m.cfg.MinOrderNotional {
		return 0, nil
	}
	return amount, nil
}

// ConfidenceMultiplier maps a 0..1 confidence to a discrete sizing tier.
func ConfidenceMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.85:
		return 1.5
	case confidence >= 0.70:
		return 1.2
	case confidence >= 0.60:
		return 1.0
	default:
		return 0.7
	}
}

// DynamicMultiplier combines regime and confidence into a single sizing
// multiplier, clamped to [0.5, 1.6]. A non-positive result vetoes the trade.
func DynamicMultiplier(condition domain.MarketCondition, confidence float64) float64 {
	var regime float64
	switch condition {
	case domain.MarketStrongUptrend:
		regime = 1.2
	case domain.MarketWeakUptrend:
		regime = 1.05
	case domain.MarketSideways:
		regime = 0.9
	case domain.MarketHighVolatility:
		regime = 0.75
	case domain.MarketWeakDowntrend:
		regime = 0.6
	case domain.MarketStrongDowntrend:
		return 0
	default:
		regime = 0.9
	}

	var conf float64
	switch {
	case confidence >= 0.85:
		conf = 1.3
	case confidence >= 0.75:
		conf = 1.15
	case confidence >= 0.65:
		conf = 1.0
	case confidence >= 0.55:
		conf = 0.85
	default:
		conf = 0.7
	}

	mult := regime * conf
	if mult < 0.5 {
		mult = 0.5
	}
	if mult > 1.6 {
		mult = 1.6
	}
	return mult
}
