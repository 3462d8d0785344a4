package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLadder(t *testing.T) {
	levels := BuildLadder(100, 0.05)
	require.Len(t, levels, 3)

	assert.InDelta(t, 103, levels[0].Price, 1e-9)
	assert.InDelta(t, 105, levels[1].Price, 1e-9)
	assert.InDelta(t, 108, levels[2].Price, 1e-9)

	var portions float64
	for _, lvl := range levels {
		portions += lvl.Portion
		assert.False(t, lvl.Executed)
	}
	assert.InDelta(t, 1.0, portions, 1e-9)
}

func TestNewTrailingStopStartsDisabled(t *testing.T) {
	ts := NewTrailingStop(0.03, 0.015)
	assert.False(t, ts.Enabled)
	assert.Equal(t, 0.03, ts.Trigger)
	assert.Equal(t, 0.015, ts.Offset)
	assert.Zero(t, ts.HighestPrice)
}
