package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExchange serves canned balances; order methods are never used by the
// services under test.
type fakeExchange struct {
	balances map[string]domain.Balance
	err      error
}

func (f *fakeExchange) FetchBalance(context.Context) (map[string]domain.Balance, error) {
	return f.balances, f.err
}

func (f *fakeExchange) FetchTicker(_ context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{Symbol: symbol}, f.err
}

func (f *fakeExchange) FetchOHLCV(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, f.err
}

func (f *fakeExchange) AverageBuyPrice(context.Context, string) (float64, error) {
	return 0, f.err
}

func (f *fakeExchange) CreateMarketBuy(_ context.Context, symbol string, qty float64) (domain.OrderResult, error) {
	return domain.OrderResult{Symbol: symbol, Quantity: qty}, f.err
}

func (f *fakeExchange) CreateMarketSell(_ context.Context, symbol string, qty float64) (domain.OrderResult, error) {
	return domain.OrderResult{Symbol: symbol, Quantity: qty}, f.err
}

func (f *fakeExchange) CreateLimitBuy(_ context.Context, symbol string, qty, price float64) (domain.OrderResult, error) {
	return domain.OrderResult{Symbol: symbol, Quantity: qty, Price: price}, f.err
}

func (f *fakeExchange) CreateLimitSell(_ context.Context, symbol string, qty, price float64) (domain.OrderResult, error) {
	return domain.OrderResult{Symbol: symbol, Quantity: qty, Price: price}, f.err
}

// fakePositions is an in-memory domain.PositionStore without persistence.
type fakePositions struct {
	positions map[string]domain.Position
}

func newFakePositions() *fakePositions {
	return &fakePositions{positions: make(map[string]domain.Position)}
}

func (f *fakePositions) Open(_ context.Context, pos domain.Position) error {
	if _, ok := f.positions[pos.Symbol]; ok {
		return domain.ErrAlreadyExists
	}
	if pos.InitialQty == 0 {
		pos.InitialQty = pos.Quantity
	}
	f.positions[pos.Symbol] = pos
	return nil
}

func (f *fakePositions) Get(_ context.Context, symbol string) (domain.Position, error) {
	pos, ok := f.positions[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (f *fakePositions) List(context.Context) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePositions) AddDCA(_ context.Context, symbol string, qty, price float64) (domain.Position, error) {
	pos, ok := f.positions[symbol]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	pos.EntryPrice = (pos.Quantity*pos.EntryPrice + qty*price) / (pos.Quantity + qty)
	pos.Quantity += qty
	pos.DCAStage++
	f.positions[symbol] = pos
	return pos, nil
}

func (f *fakePositions) Update(_ context.Context, pos domain.Position) error {
	if _, ok := f.positions[pos.Symbol]; !ok {
		return domain.ErrNotFound
	}
	f.positions[pos.Symbol] = pos
	return nil
}

func (f *fakePositions) Close(_ context.Context, symbol string, exitPrice float64) (domain.ClosedPosition, error) {
	pos, ok := f.positions[symbol]
	if !ok {
		return domain.ClosedPosition{}, domain.ErrNotFound
	}
	delete(f.positions, symbol)
	closed := domain.ClosedPosition{
		Position:  pos,
		ExitPrice: exitPrice,
		PnL:       (exitPrice - pos.EntryPrice) * pos.Quantity,
	}
	if pos.EntryPrice > 0 {
		closed.PnLPct = (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	return closed, nil
}

func (f *fakePositions) SetSLHold(context.Context, string, time.Duration) error { return nil }
func (f *fakePositions) IsSLHeld(context.Context, string) bool                  { return false }
func (f *fakePositions) ClearSLHold(context.Context, string) error              { return nil }

func (f *fakePositions) Reconcile(context.Context, map[string]domain.Balance, domain.PriceLookup, domain.PriceLookup) (domain.ReconcileReport, error) {
	return domain.ReconcileReport{}, nil
}

// fakeFeed serves fixed prices.
type fakeFeed struct {
	prices map[string]float64
}

func (f *fakeFeed) Price(symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}
