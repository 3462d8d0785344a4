// Package decision normalizes raw AI decision payloads at the boundary. The
// upstream service replies with loosely structured JSON, sometimes wrapped in
// markdown fences; everything that reaches the engine has passed through
// Parse and is guaranteed to be within its allowed range.
package decision

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// Clamp bounds for the numeric fields of a decision.
const (
	minTPRatio = 0.01
	maxTPRatio = 0.15
	minSLRatio = 0.03
	maxSLRatio = 0.07
	minWeight  = 0.15
	maxWeight  = 0.35
)

// rawDecision mirrors the upstream payload. Numeric fields arrive as numbers
// or numeric strings depending on the model's mood, so they decode as any
// and are coerced afterwards.
type rawDecision struct {
	Decision        string `json:"decision"`
	Action          string `json:"action"`
	Confidence      any    `json:"confidence"`
	TPRatio         any    `json:"tp_ratio"`
	SLRatio         any    `json:"sl_ratio"`
	TPPrice         any    `json:"tp_price"`
	SLPrice         any    `json:"sl_price"`
	PositionWeight  any    `json:"position_weight"`
	MarketCondition string `json:"market_condition"`
	PositionType    string `json:"position_type"`
	HoldingPeriod   string `json:"holding_period"`
	PivotSignal     string `json:"pivot_signal"`
	Reason          string `json:"reason"`
	RiskNote        string `json:"risk_note"`
}

// Parse normalizes a raw payload into a domain.Decision. A payload that
// cannot be decoded at all yields the safe default: hold at minimum
// confidence. Individual out-of-range fields are clamped rather than
// rejected.
func Parse(payload string) domain.Decision {
	dec := safeDefault()

	body, ok := extractJSON(payload)
	if !ok {
		return dec
	}
	var raw rawDecision
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return dec
	}

	action := raw.Decision
	if action == "" {
		action = raw.Action
	}
	dec.Action = parseAction(action)
	dec.Confidence = clamp(num(raw.Confidence, 0.5), 0, 1)
	dec.TPRatio = clamp(num(raw.TPRatio, minTPRatio), minTPRatio, maxTPRatio)
	dec.SLRatio = clamp(num(raw.SLRatio, minSLRatio), minSLRatio, maxSLRatio)
	dec.TPPrice = num(raw.TPPrice, 0)
	dec.SLPrice = num(raw.SLPrice, 0)
	dec.PositionWeight = clamp(num(raw.PositionWeight, minWeight), minWeight, maxWeight)
	dec.MarketCondition = parseCondition(raw.MarketCondition)
	dec.PositionType = parsePositionType(raw.PositionType)
	dec.HoldingPeriod = parseHoldingPeriod(raw.HoldingPeriod, dec.PositionType)
	dec.PivotSignal = strings.TrimSpace(raw.PivotSignal)
	dec.Reason = strings.TrimSpace(raw.Reason)
	dec.RiskNote = strings.TrimSpace(raw.RiskNote)
	return dec
}

// safeDefault is the decision used when the payload is unusable.
func safeDefault() domain.Decision {
	return domain.Decision{
		Action:          domain.DecisionHold,
		Confidence:      0.5,
		TPRatio:         minTPRatio,
		SLRatio:         minSLRatio,
		PositionWeight:  minWeight,
		MarketCondition: domain.MarketSideways,
		PositionType:    "swing",
		HoldingPeriod:   "days",
	}
}

// extractJSON pulls the first top-level JSON object out of the payload,
// tolerating markdown code fences and prose around it.
func extractJSON(payload string) (string, bool) {
	s := strings.TrimSpace(payload)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func parseAction(s string) domain.DecisionAction {
	switch domain.DecisionAction(strings.ToLower(strings.TrimSpace(s))) {
	case domain.DecisionBuy:
		return domain.DecisionBuy
	case domain.DecisionSell:
		return domain.DecisionSell
	default:
		return domain.DecisionHold
	}
}

func parseCondition(s string) domain.MarketCondition {
	switch c := domain.MarketCondition(strings.ToLower(strings.TrimSpace(s))); c {
	case domain.MarketStrongUptrend, domain.MarketWeakUptrend, domain.MarketSideways,
		domain.MarketHighVolatility, domain.MarketWeakDowntrend, domain.MarketStrongDowntrend:
		return c
	default:
		return domain.MarketSideways
	}
}

func parsePositionType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalp":
		return "scalp"
	default:
		return "swing"
	}
}

// parseHoldingPeriod fills the default from the position type when the model
// left the field blank: scalps resolve within hours, swings over days.
func parseHoldingPeriod(s, positionType string) string {
	if v := strings.TrimSpace(s); v != "" {
		return v
	}
	if positionType == "scalp" {
		return "hours"
	}
	return "days"
}

// num coerces a decoded JSON value to float64, accepting numbers and
// numeric strings.
func num(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return fallback
		}
		return f
	default:
		return fallback
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
