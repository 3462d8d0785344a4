package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/bithumbbot/internal/executor"
)

func TestFormatApprovalRendersPercentAsIs(t *testing.T) {
	// The engine hands PnLPct already in percent; a -5% loss must read
	// "-5.00%", not "-500.00%".
	msg := formatApproval(executor.ApprovalRequest{
		Symbol:       "BTC",
		Kind:         executor.ApprovalSell,
		Quantity:     0.5,
		CurrentPrice: 95_000_000,
		EntryPrice:   100_000_000,
		PnLPct:       -5,
		Reason:       "sell recommendation",
		RequestedAt:  time.Now(),
	})

	assert.Contains(t, msg, "PnL: -5.00%")
	assert.NotContains(t, msg, "-500.00%")
	assert.Contains(t, msg, "/approve BTC")
	assert.Contains(t, msg, "/reject BTC")
}
