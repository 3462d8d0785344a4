package domain

// DecisionAction is the action recommended by the decision service.
type DecisionAction string

const (
	DecisionBuy  DecisionAction = "buy"
	DecisionHold DecisionAction = "hold"
	DecisionSell DecisionAction = "sell"
)

// MarketCondition classifies the regime the decision was made in.
type MarketCondition string

const (
	MarketStrongUptrend   MarketCondition = "strong_uptrend"
	MarketWeakUptrend     MarketCondition = "weak_uptrend"
	MarketSideways        MarketCondition = "sideways"
	MarketHighVolatility  MarketCondition = "high_volatility"
	MarketWeakDowntrend   MarketCondition = "weak_downtrend"
	MarketStrongDowntrend MarketCondition = "strong_downtrend"
)

// Decision is a normalized trading decision from the external AI service.
// Producers must run raw payloads through decision.Parse so every field is
// within its allowed range before a Decision reaches the engine.
type Decision struct {
	Action          DecisionAction
	Confidence      float64 // 0..1
	TPRatio         float64
	SLRatio         float64
	TPPrice         float64 // 0 when the service gave only a ratio
	SLPrice         float64
	PositionWeight  float64
	MarketCondition MarketCondition
	PositionType    string // "scalp" or "swing"
	HoldingPeriod   string
	PivotSignal     string
	Reason          string
	RiskNote        string
}

// TradeContext carries the regime and time-of-day multipliers the risk
// manager applies on top of a decision when sizing an order. A RegimeMult of
// exactly zero vetoes the trade.
type TradeContext struct {
	MarketRiskLevel float64
	RegimeMult      float64
	TimeMult        float64
}
