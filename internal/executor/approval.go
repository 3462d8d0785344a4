package executor

import (
	"sync"
	"time"
)

// ApprovalKind distinguishes the two human-confirmation prompts the engine
// can raise in semi-automatic mode.
type ApprovalKind string

const (
	ApprovalSell     ApprovalKind = "sell"
	ApprovalStopLoss ApprovalKind = "stop_loss"
)

// ApprovalRequest is the payload handed to the notification channel when the
// engine wants a human decision before selling.
type ApprovalRequest struct {
	Symbol       string
	Kind         ApprovalKind
	Quantity     float64
	CurrentPrice float64
	EntryPrice   float64
	// PnLPct is expressed in percent, not a fraction: -5 means a 5% loss.
	PnLPct       float64
	Reason       string
	RequestedAt  time.Time
}

// pendingApproval is one outstanding prompt awaiting resolution.
type pendingApproval struct {
	req       ApprovalRequest
	expiresAt time.Time
	resolve   func(approved bool)
}

// ApprovalGuard is the per-symbol pending-approval set. It prevents duplicate
// prompts for the same symbol and makes resolution idempotent: the first
// Resolve call for a symbol runs the callback and clears the entry, later
// calls are no-ops.
type ApprovalGuard struct {
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]*pendingApproval

	now func() time.Time
}

// NewApprovalGuard creates a guard whose prompts expire after ttl.
func NewApprovalGuard(ttl time.Duration) *ApprovalGuard {
	return &ApprovalGuard{
		ttl:     ttl,
		pending: make(map[string]*pendingApproval),
		now:     time.Now,
	}
}

// Begin registers a pending prompt for the symbol. It returns false when a
// live prompt already exists, in which case the caller must not re-send the
// request. resolve runs at most once, on the first Resolve for the symbol.
func (g *ApprovalGuard) Begin(req ApprovalRequest, resolve func(approved bool)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.pending[req.Symbol]; ok && g.now().Before(p.expiresAt) {
		return false
	}
	g.pending[req.Symbol] = &pendingApproval{
		req:       req,
		expiresAt: g.now().Add(g.ttl),
		resolve:   resolve,
	}
	return true
}

// Resolve completes the pending prompt for the symbol. The callback is
// invoked outside the guard's lock. Resolving a symbol with no live prompt
// returns false and does nothing.
func (g *ApprovalGuard) Resolve(symbol string, approved bool) bool {
	g.mu.Lock()
	p, ok := g.pending[symbol]
	if ok {
		delete(g.pending, symbol)
	}
	g.mu.Unlock()

	if !ok || g.now().After(p.expiresAt) {
		return false
	}
	if p.resolve != nil {
		p.resolve(approved)
	}
	return true
}

// Pending reports whether the symbol has a live prompt outstanding.
func (g *ApprovalGuard) Pending(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[symbol]
	return ok && g.now().Before(p.expiresAt)
}

// Sweep drops expired prompts so an unanswered request does not block the
// symbol forever.
func (g *ApprovalGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var dropped int
	for symbol, p := range g.pending {
		if !g.now().Before(p.expiresAt) {
			delete(g.pending, symbol)
			dropped++
		}
	}
	return dropped
}
