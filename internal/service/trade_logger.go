package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// TradeLogger journals entries and exits to the trade store and mirrors
// notable events to the audit log. Recording is fire-and-forget: failures
// are logged and never block the order path. Both stores may be nil when
// the journal database is not configured.
type TradeLogger struct {
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger

	now func() time.Time
}

// NewTradeLogger creates a TradeLogger.
func NewTradeLogger(trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *TradeLogger {
	return &TradeLogger{
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "trade_logger")),
		now:    time.Now,
	}
}

// LogEntry records a filled buy with its decision metadata.
func (t *TradeLogger) LogEntry(ctx context.Context, res domain.OrderResult, dec domain.Decision) {
	if t.trades == nil {
		return
	}

	openedAt := t.now()
	rec := domain.TradeRecord{
		TradeID:      fmt.Sprintf("%s_%d", res.Symbol, openedAt.Unix()),
		Symbol:       res.Symbol,
		Side:         domain.OrderSideBuy,
		Status:       domain.TradeStatusOpen,
		Quantity:     res.Quantity,
		EntryPrice:   res.Price,
		Confidence:   dec.Confidence,
		PositionType: dec.PositionType,
		Reason:       dec.Reason,
		OpenedAt:     openedAt,
	}
	if err := t.trades.Insert(ctx, rec); err != nil {
		t.logger.WarnContext(ctx, "log entry failed",
			slog.String("symbol", res.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// LogExit completes the most recent open journal row for the symbol.
func (t *TradeLogger) LogExit(ctx context.Context, symbol string, exitPrice float64) {
	if t.trades == nil {
		return
	}

	rec, err := t.trades.CloseBySymbol(ctx, symbol, exitPrice, t.now())
	if err != nil {
		t.logger.WarnContext(ctx, "log exit failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if rec.PnL != nil {
		t.logger.InfoContext(ctx, "trade journaled",
			slog.String("trade_id", rec.TradeID),
			slog.Float64("pnl", *rec.PnL),
		)
	}
}

// Audit appends an event to the audit log when one is configured.
func (t *TradeLogger) Audit(ctx context.Context, event, severity string, detail map[string]any) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(ctx, event, severity, detail); err != nil {
		t.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
