package domain

import "time"

// TPLevel is one tier of a take-profit ladder. Portion is expressed as a
// fraction of the position's initial quantity; the portions of a freshly
// built ladder sum to 1.0.
type TPLevel struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Portion  float64 `json:"portion"`
	Executed bool    `json:"executed"`
}

// TrailingStop tracks the trailing exit for a position. It starts disabled
// and is armed when the first take-profit tier fires. HighestPrice only ever
// increases once armed.
type TrailingStop struct {
	Enabled      bool    `json:"enabled"`
	Trigger      float64 `json:"trigger"`
	Offset       float64 `json:"offset"`
	HighestPrice float64 `json:"highest_price"`
}

// DCAFill records a single averaging-in fill.
type DCAFill struct {
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is one open position, keyed by instrument symbol. EntryPrice is
// the fill-volume-weighted average of the initial fill and every DCA fill.
// InitialQty never changes after the first entry.
type Position struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"qty"`
	InitialQty float64   `json:"initial_qty"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`

	StopPrice       float64 `json:"sl_price"`
	TakeProfitPrice float64 `json:"tp_price"`
	AITPRatio       float64 `json:"ai_tp"`
	AISLRatio       float64 `json:"ai_sl"`

	TPLevels []TPLevel    `json:"tp_levels"`
	Trailing TrailingStop `json:"trailing"`

	DCAStage    int       `json:"dca_stage"`
	DCAHistory  []DCAFill `json:"dca_history"`
	EntryStage  int       `json:"entry_stage"`
	EntryRatio  float64   `json:"entry_ratio"`
	DCAInterval int       `json:"dca_interval"`

	// Strategy metadata, informational only.
	Weight        float64 `json:"pf_weight"`
	Confidence    float64 `json:"ai_confidence"`
	Reason        string  `json:"ai_reason"`
	PositionType  string  `json:"position_type"`
	HoldingPeriod string  `json:"holding_period"`
	ConfMult      float64 `json:"conf_mult"`
	TimeMult      float64 `json:"time_mult"`
	TPMult        float64 `json:"tp_mult"`
	DynamicMult   float64 `json:"dynamic_mult"`
	Trend         string  `json:"trend"`
	ATRGrade      string  `json:"atr_grade"`

	// Synced marks positions adopted from exchange reconciliation rather
	// than opened by this engine.
	Synced bool `json:"synced"`
}

// Value returns the position's notional at the given price.
func (p Position) Value(price float64) float64 {
	return p.Quantity * price
}

// ClosedPosition is the result of closing a position.
type ClosedPosition struct {
	Position
	ExitPrice float64
	PnL       float64
	PnLPct    float64
	ClosedAt  time.Time
}

// ReconcileReport summarizes one reconciliation pass against the exchange.
type ReconcileReport struct {
	Added   []string
	Removed []string
	Matched int
	Errors  []string
}
