// Package file implements domain.PositionStore on a single JSON state file.
// Every mutation happens under the store lock and is followed by a
// temp-file-then-atomic-rename write, so a reader never observes a partially
// written file and a crash mid-write leaves the previous state intact.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// Defaults applied to positions adopted during reconciliation.
const (
	syncedTPRatio = 0.03
	syncedSLRatio = 0.02
)

// state is the on-disk layout of the durable file.
type state struct {
	Positions   map[string]domain.Position `json:"positions"`
	SLHoldUntil map[string]time.Time       `json:"sl_hold_until"`
}

// Store holds the open-position map and SL-hold windows in memory and
// mirrors every change to the state file.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]domain.Position
	slHold    map[string]time.Time

	now func() time.Time
}

// New creates a Store backed by the JSON file at path, loading existing
// state when the file is present.
func New(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		logger:    logger.With(slog.String("component", "position_store")),
		positions: make(map[string]domain.Position),
		slHold:    make(map[string]time.Time),
		now:       time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file: read state %s: %w", s.path, err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("file: parse state %s: %w", s.path, err)
	}
	if st.Positions != nil {
		s.positions = st.Positions
	}
	if st.SLHoldUntil != nil {
		s.slHold = st.SLHoldUntil
	}
	return nil
}

// persist writes the full state to a temporary file and atomically renames
// it over the durable file. Caller holds s.mu. Failures are logged; the
// previous durable file remains valid.
func (s *Store) persist() {
	st := state{Positions: s.positions, SLHoldUntil: s.slHold}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.logger.Error("marshal state failed", slog.String("error", err.Error()))
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("write temp state failed",
			slog.String("path", tmp),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("rename state failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}
}

// Open records a new position. It fails with ErrAlreadyExists when a
// position for the symbol is already held.
func (s *Store) Open(ctx context.Context, pos domain.Position) error {
	if pos.Symbol == "" || pos.Quantity <= 0 || pos.EntryPrice <= 0 {
		return fmt.Errorf("file: open %s: %w", pos.Symbol, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.Symbol]; ok {
		return fmt.Errorf("file: open %s: %w", pos.Symbol, domain.ErrAlreadyExists)
	}

	if pos.InitialQty == 0 {
		pos.InitialQty = pos.Quantity
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = s.now()
	}
	s.positions[pos.Symbol] = pos
	s.persist()

	s.logger.InfoContext(ctx, "position opened",
		slog.String("symbol", pos.Symbol),
		slog.Float64("qty", pos.Quantity),
		slog.Float64("entry_price", pos.EntryPrice),
	)
	return nil
}

// Get returns the position for symbol.
func (s *Store) Get(_ context.Context, symbol string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("file: get %s: %w", symbol, domain.ErrNotFound)
	}
	return pos, nil
}

// List returns every open position.
func (s *Store) List(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

// AddDCA records an averaging-in fill: entry price becomes the
// volume-weighted average of all fills, the DCA stage increments, and the
// fill is appended to history.
func (s *Store) AddDCA(ctx context.Context, symbol string, qty, price float64) (domain.Position, error) {
	if qty <= 0 || price <= 0 {
		return domain.Position{}, fmt.Errorf("file: add dca %s: %w", symbol, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return domain.Position{}, fmt.Errorf("file: add dca %s: %w", symbol, domain.ErrNotFound)
	}

	oldQty := pos.Quantity
	pos.EntryPrice = (oldQty*pos.EntryPrice + qty*price) / (oldQty + qty)
	pos.Quantity = oldQty + qty
	pos.DCAStage++
	pos.DCAHistory = append(pos.DCAHistory, domain.DCAFill{
		Qty:       qty,
		Price:     price,
		Timestamp: s.now(),
	})
	s.positions[symbol] = pos
	s.persist()

	s.logger.InfoContext(ctx, "dca recorded",
		slog.String("symbol", symbol),
		slog.Int("stage", pos.DCAStage),
		slog.Float64("avg_entry", pos.EntryPrice),
	)
	return pos, nil
}

// Update replaces the stored record wholesale. Used for partial-exit
// quantity reductions, trailing-stop updates, and ladder executed flags.
func (s *Store) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.Symbol]; !ok {
		return fmt.Errorf("file: update %s: %w", pos.Symbol, domain.ErrNotFound)
	}
	s.positions[pos.Symbol] = pos
	s.persist()
	return nil
}

// Close removes the position and returns it with realized P&L.
func (s *Store) Close(ctx context.Context, symbol string, exitPrice float64) (domain.ClosedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok {
		return domain.ClosedPosition{}, fmt.Errorf("file: close %s: %w", symbol, domain.ErrNotFound)
	}

	closed := domain.ClosedPosition{
		Position:  pos,
		ExitPrice: exitPrice,
		PnL:       (exitPrice - pos.EntryPrice) * pos.Quantity,
		ClosedAt:  s.now(),
	}
	if pos.EntryPrice > 0 {
		closed.PnLPct = (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}

	delete(s.positions, symbol)
	s.persist()

	s.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", symbol),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", closed.PnL),
		slog.Float64("pnl_pct", closed.PnLPct),
	)
	return closed, nil
}

// SetSLHold snoozes stop-loss confirmation prompts for the symbol.
func (s *Store) SetSLHold(_ context.Context, symbol string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("file: set sl hold %s: %w", symbol, domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slHold[symbol] = s.now().Add(d)
	s.persist()
	return nil
}

// IsSLHeld reports whether an SL hold is active. Elapsed holds are deleted
// on read.
func (s *Store) IsSLHeld(_ context.Context, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.slHold[symbol]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.slHold, symbol)
		s.persist()
		return false
	}
	return true
}

// ClearSLHold removes any hold for the symbol.
func (s *Store) ClearSLHold(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slHold[symbol]; ok {
		delete(s.slHold, symbol)
		s.persist()
	}
	return nil
}

// Reconcile aligns the store with the exchange's balances. Symbols held only
// on the exchange are adopted with a conservative default TP/SL; symbols
// held only locally are removed. Quote currencies are skipped.
func (s *Store) Reconcile(ctx context.Context, balances map[string]domain.Balance, avgCost, price domain.PriceLookup) (domain.ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := domain.ReconcileReport{}
	now := s.now()

	for symbol, bal := range balances {
		if isQuoteCurrency(symbol) || bal.Total <= 0 {
			continue
		}
		if _, ok := s.positions[symbol]; ok {
			report.Matched++
			continue
		}

		entry, ok := avgCost(symbol)
		if !ok || entry <= 0 {
			entry, ok = price(symbol)
			if !ok || entry <= 0 {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: no price available", symbol))
				continue
			}
		}

		s.positions[symbol] = domain.Position{
			Symbol:          symbol,
			Quantity:        bal.Total,
			InitialQty:      bal.Total,
			EntryPrice:      entry,
			OpenedAt:        now,
			StopPrice:       entry * (1 - syncedSLRatio),
			TakeProfitPrice: entry * (1 + syncedTPRatio),
			AITPRatio:       syncedTPRatio,
			AISLRatio:       syncedSLRatio,
			PositionType:    "swing",
			Synced:          true,
		}
		report.Added = append(report.Added, symbol)
	}

	for symbol := range s.positions {
		bal, ok := balances[symbol]
		if !ok || bal.Total <= 0 {
			delete(s.positions, symbol)
			delete(s.slHold, symbol)
			report.Removed = append(report.Removed, symbol)
		}
	}

	s.persist()

	s.logger.InfoContext(ctx, "reconciliation complete",
		slog.Int("added", len(report.Added)),
		slog.Int("removed", len(report.Removed)),
		slog.Int("matched", report.Matched),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// isQuoteCurrency filters fiat/stable quote balances out of reconciliation.
func isQuoteCurrency(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "KRW", "USDT", "USDC":
		return true
	}
	return false
}

// Path returns the durable file location.
func (s *Store) Path() string {
	return filepath.Clean(s.path)
}

// Compile-time interface check.
var _ domain.PositionStore = (*Store)(nil)
