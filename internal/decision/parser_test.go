package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

func TestParseWellFormed(t *testing.T) {
	dec := Parse(`{
		"decision": "buy",
		"confidence": 0.82,
		"tp_ratio": 0.05,
		"sl_ratio": 0.04,
		"position_weight": 0.2,
		"market_condition": "weak_uptrend",
		"position_type": "scalp",
		"reason": "momentum continuation"
	}`)

	assert.Equal(t, domain.DecisionBuy, dec.Action)
	assert.Equal(t, 0.82, dec.Confidence)
	assert.Equal(t, 0.05, dec.TPRatio)
	assert.Equal(t, 0.04, dec.SLRatio)
	assert.Equal(t, 0.2, dec.PositionWeight)
	assert.Equal(t, domain.MarketWeakUptrend, dec.MarketCondition)
	assert.Equal(t, "scalp", dec.PositionType)
	assert.Equal(t, "hours", dec.HoldingPeriod, "scalp defaults to an hours horizon")
	assert.Equal(t, "momentum continuation", dec.Reason)
}

func TestParseMarkdownFenced(t *testing.T) {
	dec := Parse("Here is my analysis.\n```json\n{\"decision\": \"sell\", \"confidence\": 0.9}\n```\nGood luck!")
	assert.Equal(t, domain.DecisionSell, dec.Action)
	assert.Equal(t, 0.9, dec.Confidence)
}

func TestParseProseAroundObject(t *testing.T) {
	dec := Parse(`Based on the indicators {"decision": "buy", "confidence": 0.7} is my call.`)
	assert.Equal(t, domain.DecisionBuy, dec.Action)
	assert.Equal(t, 0.7, dec.Confidence)
}

func TestParseGarbageFallsBackToHold(t *testing.T) {
	for _, payload := range []string{"", "no json here", "{broken", "[1,2,3]"} {
		dec := Parse(payload)
		assert.Equal(t, domain.DecisionHold, dec.Action, "payload %q", payload)
		assert.Equal(t, 0.5, dec.Confidence)
		assert.Equal(t, domain.MarketSideways, dec.MarketCondition)
	}
}

func TestParseClampsRanges(t *testing.T) {
	dec := Parse(`{
		"decision": "buy",
		"confidence": 1.7,
		"tp_ratio": 0.9,
		"sl_ratio": 0.001,
		"position_weight": 0.99
	}`)

	assert.Equal(t, 1.0, dec.Confidence)
	assert.Equal(t, 0.15, dec.TPRatio)
	assert.Equal(t, 0.03, dec.SLRatio)
	assert.Equal(t, 0.35, dec.PositionWeight)
}

func TestParseNumericStrings(t *testing.T) {
	dec := Parse(`{"decision": "buy", "confidence": "0.75", "tp_ratio": "0.06"}`)
	assert.Equal(t, 0.75, dec.Confidence)
	assert.Equal(t, 0.06, dec.TPRatio)
}

func TestParseUnknownEnums(t *testing.T) {
	dec := Parse(`{"decision": "yolo", "market_condition": "moon", "position_type": "lambo"}`)
	assert.Equal(t, domain.DecisionHold, dec.Action)
	assert.Equal(t, domain.MarketSideways, dec.MarketCondition)
	assert.Equal(t, "swing", dec.PositionType)
	assert.Equal(t, "days", dec.HoldingPeriod)
}

func TestParseActionAlias(t *testing.T) {
	dec := Parse(`{"action": "SELL"}`)
	assert.Equal(t, domain.DecisionSell, dec.Action)
}

func TestParseNestedObjectInString(t *testing.T) {
	dec := Parse(`{"decision": "buy", "reason": "support at {100k} held", "confidence": 0.6}`)
	assert.Equal(t, domain.DecisionBuy, dec.Action)
	assert.Equal(t, "support at {100k} held", dec.Reason)
}
