package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PriceLookup resolves a price for a symbol; ok is false when unavailable.
type PriceLookup func(symbol string) (price float64, ok bool)

// PositionStore owns the open-position map and the per-symbol stop-loss hold
// windows. Every mutation is serialized by the store and followed by a
// crash-safe write of the full state.
type PositionStore interface {
	Open(ctx context.Context, pos Position) error
	Get(ctx context.Context, symbol string) (Position, error)
	List(ctx context.Context) ([]Position, error)
	AddDCA(ctx context.Context, symbol string, qty, price float64) (Position, error)
	Update(ctx context.Context, pos Position) error
	Close(ctx context.Context, symbol string, exitPrice float64) (ClosedPosition, error)

	SetSLHold(ctx context.Context, symbol string, d time.Duration) error
	IsSLHeld(ctx context.Context, symbol string) bool
	ClearSLHold(ctx context.Context, symbol string) error

	// Reconcile aligns the store with the exchange's balances: symbols held
	// only on the exchange are adopted with conservative defaults, symbols
	// held only locally are removed. avgCost resolves the exchange's average
	// buy price, price the current market price.
	Reconcile(ctx context.Context, balances map[string]Balance, avgCost, price PriceLookup) (ReconcileReport, error)
}

// TradeStore persists the trade journal.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	CloseBySymbol(ctx context.Context, symbol string, exitPrice float64, closedAt time.Time) (TradeRecord, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]TradeRecord, error)
	DailySummary(ctx context.Context, day time.Time) (DailySummary, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Severity  string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. DeleteBefore exists for the
// archiver; nothing else removes audit rows.
type AuditStore interface {
	Log(ctx context.Context, event, severity string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
