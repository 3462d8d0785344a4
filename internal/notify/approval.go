package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/bithumbbot/internal/executor"
)

// ApprovalNotifier adapts the multi-channel Notifier to the executor's
// approval interface. Prompts bypass event filtering: a filtered-out
// approval request would silently freeze a SEMI-mode exit.
type ApprovalNotifier struct {
	n *Notifier
}

// NewApprovalNotifier wraps the given Notifier.
func NewApprovalNotifier(n *Notifier) *ApprovalNotifier {
	return &ApprovalNotifier{n: n}
}

// SendApprovalRequest delivers a sell confirmation prompt.
func (a *ApprovalNotifier) SendApprovalRequest(ctx context.Context, req executor.ApprovalRequest) error {
	return a.n.NotifyAll(ctx,
		fmt.Sprintf("Sell approval needed: %s", req.Symbol),
		formatApproval(req),
	)
}

// SendSLApprovalRequest delivers a stop-loss confirmation prompt.
func (a *ApprovalNotifier) SendSLApprovalRequest(ctx context.Context, req executor.ApprovalRequest) error {
	return a.n.NotifyAll(ctx,
		fmt.Sprintf("Stop-loss approval needed: %s", req.Symbol),
		formatApproval(req),
	)
}

func formatApproval(req executor.ApprovalRequest) string {
	return fmt.Sprintf(
		"Qty: %.8f\nEntry: %.0f KRW\nCurrent: %.0f KRW\nPnL: %+.2f%%\nReason: %s\n\nReply /approve %s or /reject %s",
		req.Quantity,
		req.EntryPrice,
		req.CurrentPrice,
		req.PnLPct,
		req.Reason,
		req.Symbol,
		req.Symbol,
	)
}

// Compile-time interface check.
var _ executor.Notifier = (*ApprovalNotifier)(nil)
