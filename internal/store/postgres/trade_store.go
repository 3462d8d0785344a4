package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, trade_id, symbol, side, status, quantity,
	entry_price, exit_price, pnl, pnl_pct, holding_hours,
	confidence, position_type, reason, opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	err := row.Scan(
		&t.ID, &t.TradeID, &t.Symbol, &t.Side, &t.Status, &t.Quantity,
		&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.PnLPct, &t.HoldingHours,
		&t.Confidence, &t.PositionType, &t.Reason, &t.OpenedAt, &t.ClosedAt,
	)
	return t, err
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert journals a new trade entry. Re-inserting the same trade_id is
// silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			trade_id, symbol, side, status, quantity, entry_price,
			confidence, position_type, reason, opened_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		) ON CONFLICT (trade_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.TradeID, rec.Symbol, rec.Side, rec.Status, rec.Quantity, rec.EntryPrice,
		rec.Confidence, rec.PositionType, rec.Reason, rec.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.TradeID, err)
	}
	return nil
}

// CloseBySymbol completes the most recent open journal row for the symbol,
// deriving pnl, pnl percentage, and holding hours from the stored entry.
// It returns domain.ErrNotFound when no open row exists for the symbol.
func (s *TradeStore) CloseBySymbol(ctx context.Context, symbol string, exitPrice float64, closedAt time.Time) (domain.TradeRecord, error) {
	rec, err := scanTrade(s.pool.QueryRow(ctx, closeTradeQuery, symbol, exitPrice, closedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeRecord{}, fmt.Errorf("postgres: close trade %s: %w", symbol, domain.ErrNotFound)
		}
		return domain.TradeRecord{}, fmt.Errorf("postgres: close trade %s: %w", symbol, err)
	}
	return rec, nil
}

const tradeSelectColsQualified = `t.id, t.trade_id, t.symbol, t.side, t.status, t.quantity,
	t.entry_price, t.exit_price, t.pnl, t.pnl_pct, t.holding_hours,
	t.confidence, t.position_type, t.reason, t.opened_at, t.closed_at`

// closeTradeQuery stores pnl_pct in percent, matching the unit used by the
// position store and the engine.
const closeTradeQuery = `
	WITH target AS (
		SELECT id FROM trades
		WHERE symbol = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	)
	UPDATE trades t SET
		status = 'closed',
		exit_price = $2,
		closed_at = $3,
		pnl = ($2 - t.entry_price) * t.quantity,
		pnl_pct = CASE WHEN t.entry_price > 0 THEN ($2 / t.entry_price - 1) * 100 ELSE 0 END,
		holding_hours = EXTRACT(EPOCH FROM ($3::timestamptz - t.opened_at)) / 3600
	FROM target
	WHERE t.id = target.id
	RETURNING ` + tradeSelectColsQualified

// ListBySymbol returns the journal rows for a symbol, newest first, with
// pagination and optional time filtering on opened_at.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", symbol, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades %s: %w", symbol, err)
	}
	return trades, nil
}

// DailySummary aggregates the trades closed during the UTC day containing day.
func (s *TradeStore) DailySummary(ctx context.Context, day time.Time) (domain.DailySummary, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COUNT(*) FILTER (WHERE pnl < 0),
			COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE status = 'closed' AND closed_at >= $1 AND closed_at < $2`

	sum := domain.DailySummary{Day: dayStart}
	err := s.pool.QueryRow(ctx, query, dayStart, dayEnd).
		Scan(&sum.Trades, &sum.Wins, &sum.Losses, &sum.TotalPnL)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("postgres: daily summary: %w", err)
	}
	return sum, nil
}

// ListBefore returns closed trades opened strictly before the given time,
// oldest first, for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades
		WHERE status = 'closed' AND opened_at < $1
		ORDER BY opened_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes closed trades opened before the given time and
// returns the number deleted. Open rows are never deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE status = 'closed' AND opened_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
