package domain

import "time"

// TradeStatus tracks whether a journaled trade is still open.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// TradeRecord is one row of the trade journal: an entry, later completed by
// an exit. Exit fields are nil while the trade is open.
type TradeRecord struct {
	ID           int64
	TradeID      string // "{SYMBOL}_{unix}" assigned at entry
	Symbol       string
	Side         OrderSide
	Status       TradeStatus
	Quantity     float64
	EntryPrice   float64
	ExitPrice    *float64
	PnL          *float64
	// PnLPct is in percent to match Position.PnLPct: 5 means a 5% gain.
	PnLPct       *float64
	HoldingHours *float64

	// Decision metadata captured at entry.
	Confidence   float64
	PositionType string
	Reason       string

	OpenedAt time.Time
	ClosedAt *time.Time
}

// DailySummary aggregates the closed trades of one local day.
type DailySummary struct {
	Day      time.Time
	Trades   int
	Wins     int
	Losses   int
	TotalPnL float64
}

// SlippageSeverity grades a slippage observation.
type SlippageSeverity string

const (
	SlippageNormal   SlippageSeverity = "normal"
	SlippageWarning  SlippageSeverity = "warning"
	SlippageCritical SlippageSeverity = "critical"
)

// SlippageRecord is one expected-vs-actual fill price observation.
type SlippageRecord struct {
	Symbol        string
	Side          OrderSide
	ExpectedPrice float64
	ActualPrice   float64
	Quantity      float64
	SlippagePct   float64
	Severity      SlippageSeverity
	Timestamp     time.Time
}
