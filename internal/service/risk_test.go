package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

func newTestRisk(cfg RiskConfig, ex *fakeExchange, pos *fakePositions, feed *fakeFeed) *RiskManager {
	if ex == nil {
		ex = &fakeExchange{balances: map[string]domain.Balance{}}
	}
	if pos == nil {
		pos = newFakePositions()
	}
	if feed == nil {
		feed = &fakeFeed{prices: map[string]float64{}}
	}
	return NewRiskManager(ex, pos, feed, cfg, testLogger())
}

func TestTotalCapitalFixed(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false

	m := newTestRisk(cfg, nil, nil, nil)
	capital, err := m.TotalCapital(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 950_000, capital, 1e-6)
}

func TestTotalCapitalFromBalanceAndPositions(t *testing.T) {
	cfg := DefaultRiskConfig()
	ex := &fakeExchange{balances: map[string]domain.Balance{
		"KRW": {Free: 500_000},
	}}
	pos := newFakePositions()
	require.NoError(t, pos.Open(context.Background(), domain.Position{
		Symbol: "BTC", Quantity: 2, EntryPrice: 100_000,
	}))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 150_000}}

	m := newTestRisk(cfg, ex, pos, feed)
	capital, err := m.TotalCapital(context.Background())
	require.NoError(t, err)
	// (500k free + 2*150k marked) * 0.95
	assert.InDelta(t, 800_000*0.95, capital, 1e-6)
}

func TestTotalCapitalFloor(t *testing.T) {
	cfg := DefaultRiskConfig()
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 1000}}}

	m := newTestRisk(cfg, ex, nil, nil)
	capital, err := m.TotalCapital(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50_000.0, capital)
}

func TestCheckPositionWeightCap(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	cfg.SafetyMargin = 1.0 // capital exactly 1,000,000

	pos := newFakePositions()
	require.NoError(t, pos.Open(context.Background(), domain.Position{
		Symbol: "BTC", Quantity: 1, EntryPrice: 200_000,
	}))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 200_000}}

	m := newTestRisk(cfg, nil, pos, feed)

	check, maxAdd, err := m.CheckPositionWeightCap(context.Background(), "BTC", 40_000)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.InDelta(t, 50_000, maxAdd, 1e-6)

	check, maxAdd, err = m.CheckPositionWeightCap(context.Background(), "BTC", 60_000)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.InDelta(t, 50_000, maxAdd, 1e-6)
}

func TestCheckDCALimit(t *testing.T) {
	cfg := DefaultRiskConfig()
	pos := newFakePositions()
	require.NoError(t, pos.Open(context.Background(), domain.Position{
		Symbol: "BTC", Quantity: 1, EntryPrice: 100, DCAStage: 2,
	}))

	m := newTestRisk(cfg, nil, pos, nil)

	check, err := m.CheckDCALimit(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	p := pos.positions["BTC"]
	p.DCAStage = 3
	pos.positions["BTC"] = p

	check, err = m.CheckDCALimit(context.Background(), "BTC")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}

func TestCheckDrawdown(t *testing.T) {
	cfg := DefaultRiskConfig()
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 1_000_000}}}
	m := newTestRisk(cfg, ex, nil, nil)
	ctx := context.Background()

	check, err := m.CheckDrawdown(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	// 8% below peak: warning zone (70% of the 10% limit).
	ex.balances["KRW"] = domain.Balance{Free: 920_000}
	check, err = m.CheckDrawdown(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.True(t, check.Warning)

	// 12% below peak: blocked.
	ex.balances["KRW"] = domain.Balance{Free: 880_000}
	check, err = m.CheckDrawdown(ctx)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}

func TestCheckDailyLossBlocksAtLimit(t *testing.T) {
	cfg := DefaultRiskConfig()
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 1_000_000}}}
	m := newTestRisk(cfg, ex, nil, nil)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	// First call of the day records the start-of-day equity.
	check, err := m.CheckDailyLoss(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	// Equity drops to 940,000: 6% loss >= 5% limit.
	ex.balances["KRW"] = domain.Balance{Free: 940_000}
	check, err = m.CheckDailyLoss(ctx)
	require.NoError(t, err)
	assert.False(t, check.Allowed)

	// Date rollover re-initializes the baseline.
	now = now.Add(24 * time.Hour)
	check, err = m.CheckDailyLoss(ctx)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
}

func TestLossStreak(t *testing.T) {
	cfg := DefaultRiskConfig()
	m := newTestRisk(cfg, nil, nil, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, m.CheckLossStreak().Allowed)
		m.RegisterTradeResult(-1000)
	}
	assert.False(t, m.CheckLossStreak().Allowed)

	m.RegisterTradeResult(500)
	assert.True(t, m.CheckLossStreak().Allowed)
	assert.Equal(t, 0, m.LossStreak())
}

func TestLossStreakAggressiveAllowsMore(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.Aggressive = true
	m := newTestRisk(cfg, nil, nil, nil)

	for i := 0; i < 4; i++ {
		m.RegisterTradeResult(-1)
	}
	assert.True(t, m.CheckLossStreak().Allowed)
	m.RegisterTradeResult(-1)
	assert.False(t, m.CheckLossStreak().Allowed)
}

func TestTradeAmountAppliesMultipliers(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	cfg.SafetyMargin = 1.0
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 10_000_000}}}

	m := newTestRisk(cfg, ex, nil, nil)
	ctx := context.Background()

	// 1,000,000 * 0.1 * regime 1.0 * conf tier 1.2 (0.75)
	amount, err := m.TradeAmount(ctx, "BTC", 0.1, domain.TradeContext{RegimeMult: 1.0}, 0.75)
	require.NoError(t, err)
	assert.InDelta(t, 120_000, amount, 1e-6)
}

func TestTradeAmountRegimeVeto(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 10_000_000}}}

	m := newTestRisk(cfg, ex, nil, nil)
	amount, err := m.TradeAmount(context.Background(), "BTC", 0.2, domain.TradeContext{RegimeMult: 0}, 0.9)
	require.NoError(t, err)
	assert.Zero(t, amount)
}

func TestTradeAmountRespectsWeightCap(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	cfg.SafetyMargin = 1.0
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 10_000_000}}}

	pos := newFakePositions()
	require.NoError(t, pos.Open(context.Background(), domain.Position{
		Symbol: "BTC", Quantity: 1, EntryPrice: 200_000,
	}))
	feed := &fakeFeed{prices: map[string]float64{"BTC": 200_000}}

	m := newTestRisk(cfg, ex, pos, feed)

	// Requested weight would exceed the 25% cap; clamp to 50,000 headroom.
	amount, err := m.TradeAmount(context.Background(), "BTC", 0.5, domain.TradeContext{RegimeMult: 1.0}, 0.9)
	require.NoError(t, err)
	assert.InDelta(t, 50_000, amount, 1e-6)
}

func TestTradeAmountClampsToFreeBalance(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	cfg.SafetyMargin = 1.0
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 100_000}}}

	m := newTestRisk(cfg, ex, nil, nil)
	amount, err := m.TradeAmount(context.Background(), "BTC", 0.2, domain.TradeContext{RegimeMult: 1.0}, 0.65)
	require.NoError(t, err)
	assert.InDelta(t, 85_000, amount, 1e-6)
}

func TestTradeAmountBelowMinNotionalIsZero(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 10_000_000}}}

	m := newTestRisk(cfg, ex, nil, nil)
	amount, err := m.TradeAmount(context.Background(), "BTC", 0.000001, domain.TradeContext{RegimeMult: 1.0}, 0.9)
	require.NoError(t, err)
	assert.Zero(t, amount)
}

func TestTradeAmountMarketRiskDampening(t *testing.T) {
	cfg := DefaultRiskConfig()
	cfg.FixedCapital = 1_000_000
	cfg.UseBalanceCapital = false
	cfg.SafetyMargin = 1.0
	ex := &fakeExchange{balances: map[string]domain.Balance{"KRW": {Free: 10_000_000}}}

	m := newTestRisk(cfg, ex, nil, nil)
	ctx := context.Background()

	amount, err := m.TradeAmount(ctx, "BTC", 0.1, domain.TradeContext{RegimeMult: 1.0, MarketRiskLevel: 0.8}, 0.65)
	require.NoError(t, err)
	assert.InDelta(t, 100_000*0.4, amount, 1e-6)

	amount, err = m.TradeAmount(ctx, "BTC", 0.1, domain.TradeContext{RegimeMult: 1.0, MarketRiskLevel: 0.6}, 0.65)
	require.NoError(t, err)
	assert.InDelta(t, 100_000*0.7, amount, 1e-6)
}

func TestConfidenceMultiplierTiers(t *testing.T) {
	assert.Equal(t, 1.5, ConfidenceMultiplier(0.9))
	assert.Equal(t, 1.5, ConfidenceMultiplier(0.85))
	assert.Equal(t, 1.2, ConfidenceMultiplier(0.75))
	assert.Equal(t, 1.0, ConfidenceMultiplier(0.6))
	assert.Equal(t, 0.7, ConfidenceMultiplier(0.4))
}

func TestDynamicMultiplier(t *testing.T) {
	// Strong downtrend always vetoes.
	assert.Zero(t, DynamicMultiplier(domain.MarketStrongDowntrend, 0.95))

	// Strong uptrend with high confidence lands just under the ceiling.
	assert.InDelta(t, 1.56, DynamicMultiplier(domain.MarketStrongUptrend, 0.9), 1e-9)

	// Weak downtrend with low confidence clamps at the floor.
	assert.Equal(t, 0.5, DynamicMultiplier(domain.MarketWeakDowntrend, 0.3))
}
