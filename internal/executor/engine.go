// Package executor turns normalized decisions into exchange orders and runs
// the per-tick position sweep: hard stops, AI-ratio stops, the take-profit
// ladder, the trailing stop, and averaging-in.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/alanyoungcy/bithumbbot/internal/service"
)

// Mode selects how much human confirmation the engine requires.
type Mode string

const (
	// ModeAuto executes every order without confirmation.
	ModeAuto Mode = "AUTO"
	// ModeSemi requires human approval for loss-making exits.
	ModeSemi Mode = "SEMI"
)

// Notifier is the outbound channel for approval prompts. Resolutions arrive
// asynchronously through Engine.HandleApproval.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, req ApprovalRequest) error
	SendSLApprovalRequest(ctx context.Context, req ApprovalRequest) error
}

// Config holds the engine's execution parameters.
type Config struct {
	Mode             Mode
	QuoteCurrency    string
	MinOrderNotional float64

	TrailingTrigger float64
	TrailingOffset  float64

	// DCAThresholds is the price drawdown from entry, per DCA stage, that
	// opens the next averaging-in opportunity.
	DCAThresholds []float64

	SLHold      time.Duration
	ApprovalTTL time.Duration

	// FullCloseMargin shaves the sellable quantity on full liquidation so a
	// stale balance snapshot cannot oversell.
	FullCloseMargin float64
}

// DefaultConfig returns the standard execution parameters.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeAuto,
		QuoteCurrency:    "KRW",
		MinOrderNotional: 5000,
		TrailingTrigger:  0.03,
		TrailingOffset:   0.015,
		DCAThresholds:    []float64{0.02, 0.04, 0.06, 0.09, 0.12},
		SLHold:           4 * time.Hour,
		ApprovalTTL:      10 * time.Minute,
		FullCloseMargin:  0.9995,
	}
}

// SellOpts modifies a sell request.
type SellOpts struct {
	// SkipApproval bypasses the semi-automatic confirmation prompt. Set for
	// exits the engine itself decided (stops, ladder tiers, trailing).
	SkipApproval bool
}

// Engine is the execution engine. All order submission flows through it; a
// failure before the exchange acknowledged anything performs no position
// mutation.
type Engine struct {
	exchange  domain.ExchangeClient
	positions domain.PositionStore
	feed      domain.PriceFeed
	risk      *service.RiskManager
	breaker   *service.CircuitBreaker
	slippage  *service.SlippageTracker
	tradeLog  *service.TradeLogger
	notifier  Notifier
	guard     *ApprovalGuard
	cfg       Config
	logger    *slog.Logger

	now func() time.Time
}

// NewEngine wires the engine with all collaborators. notifier may be nil in
// fully automatic mode.
func NewEngine(
	exchange domain.ExchangeClient,
	positions domain.PositionStore,
	feed domain.PriceFeed,
	risk *service.RiskManager,
	breaker *service.CircuitBreaker,
	slippage *service.SlippageTracker,
	tradeLog *service.TradeLogger,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		exchange:  exchange,
		positions: positions,
		feed:      feed,
		risk:      risk,
		breaker:   breaker,
		slippage:  slippage,
		tradeLog:  tradeLog,
		notifier:  notifier,
		guard:     NewApprovalGuard(cfg.ApprovalTTL),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
	}
}

// Buy opens a new position for the symbol from a buy decision. The dynamic
// size multiplier can veto the order outright; vetoes surface as
// ErrRiskBlocked, a halted breaker as ErrTradingHalted.
func (e *Engine) Buy(ctx context.Context, symbol string, dec domain.Decision, tctx domain.TradeContext) (domain.OrderResult, error) {
	log := e.logger.With(slog.String("symbol", symbol))

	if !e.breaker.CanTrade() {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: %w", symbol, domain.ErrTradingHalted)
	}
	if _, err := e.positions.Get(ctx, symbol); err == nil {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: %w", symbol, domain.ErrAlreadyExists)
	}

	mult := service.DynamicMultiplier(dec.MarketCondition, dec.Confidence)
	if mult <= 0 {
		log.InfoContext(ctx, "buy vetoed by dynamic multiplier",
			slog.String("market_condition", string(dec.MarketCondition)),
			slog.Float64("confidence", dec.Confidence),
		)
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: regime veto: %w", symbol, domain.ErrRiskBlocked)
	}

	amount, err := e.risk.TradeAmount(ctx, symbol, dec.PositionWeight, tctx, dec.Confidence)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: %w", symbol, err)
	}
	amount *= mult

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: %w", symbol, err)
	}
	if free := balances[e.cfg.QuoteCurrency].Free; amount > free {
		amount = free
	}
	if amount < e.cfg.MinOrderNotional {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: amount %.0f below min notional: %w",
			symbol, amount, domain.ErrInsufficientBalance)
	}

	ticker, err := e.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: %w", symbol, err)
	}
	price := ticker.Last
	if price <= 0 {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: no price: %w", symbol, domain.ErrInvalidInput)
	}

	qty := truncateQty(amount / price)
	if qty <= 0 {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: zero quantity: %w", symbol, domain.ErrInvalidInput)
	}

	res, err := e.exchange.CreateMarketBuy(ctx, symbol, qty)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: buy %s: %w", symbol, err)
	}
	if res.Price <= 0 {
		res.Price = price
	}
	if res.Quantity <= 0 {
		res.Quantity = qty
	}
	res.Symbol = symbol
	res.Side = domain.OrderSideBuy

	e.slippage.Record(symbol, domain.OrderSideBuy, price, res.Price, res.Quantity)

	slRatio := dec.SLRatio
	stopPrice := dec.SLPrice
	if stopPrice <= 0 && slRatio > 0 {
		stopPrice = res.Price * (1 - slRatio)
	}

	pos := domain.Position{
		Symbol:          symbol,
		Quantity:        res.Quantity,
		EntryPrice:      res.Price,
		StopPrice:       stopPrice,
		TakeProfitPrice: res.Price * (1 + dec.TPRatio),
		AITPRatio:       dec.TPRatio,
		AISLRatio:       slRatio,
		TPLevels:        BuildLadder(res.Price, dec.TPRatio),
		Trailing:        NewTrailingStop(e.cfg.TrailingTrigger, e.cfg.TrailingOffset),
		EntryRatio:      dec.PositionWeight,
		Weight:          dec.PositionWeight,
		Confidence:      dec.Confidence,
		Reason:          dec.Reason,
		PositionType:    dec.PositionType,
		HoldingPeriod:   dec.HoldingPeriod,
		DynamicMult:     mult,
		Trend:           string(dec.MarketCondition),
	}
	if err := e.positions.Open(ctx, pos); err != nil {
		return res, fmt.Errorf("executor: buy %s: order filled but position not recorded: %w", symbol, err)
	}

	e.tradeLog.LogEntry(ctx, res, dec)
	log.InfoContext(ctx, "position opened",
		slog.Float64("qty", res.Quantity),
		slog.Float64("price", res.Price),
		slog.Float64("notional", res.Quantity*res.Price),
	)
	return res, nil
}

// Sell fully closes the symbol's position at market. In semi-automatic mode a
// loss-making exit first goes through the approval channel; the pending
// prompt surfaces as ErrApprovalPending and the sell resumes when the
// resolution arrives.
func (e *Engine) Sell(ctx context.Context, symbol, reason string, opts SellOpts) (domain.OrderResult, error) {
	pos, err := e.positions.Get(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: %w", symbol, err)
	}

	price, ok := e.currentPrice(ctx, symbol)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: no price: %w", symbol, domain.ErrInvalidInput)
	}

	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}

	if e.cfg.Mode == ModeSemi && pnlPct < 0 && !opts.SkipApproval {
		if err := e.requestApproval(ctx, ApprovalRequest{
			Symbol:       symbol,
			Kind:         ApprovalSell,
			Quantity:     pos.Quantity,
			CurrentPrice: price,
			EntryPrice:   pos.EntryPrice,
			PnLPct:       pnlPct,
			Reason:       reason,
			RequestedAt:  e.now(),
		}); err != nil {
			return domain.OrderResult{}, err
		}
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: %w", symbol, domain.ErrApprovalPending)
	}

	return e.executeSell(ctx, pos, price, pos.Quantity, true, reason)
}

// executeSell resolves the sellable quantity from the exchange's own balance
// and submits the order. fullClose also closes the position record and feeds
// the trade-result bookkeeping; for a partial exit the caller applies the
// quantity reduction itself, together with its ladder state, in one update.
func (e *Engine) executeSell(ctx context.Context, pos domain.Position, price, qty float64, fullClose bool, reason string) (domain.OrderResult, error) {
	log := e.logger.With(slog.String("symbol", pos.Symbol), slog.String("reason", reason))

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: %w", pos.Symbol, err)
	}
	avail := balances[pos.Symbol].Free
	if avail <= 0 {
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: no exchange balance: %w",
			pos.Symbol, domain.ErrInsufficientBalance)
	}

	if fullClose {
		qty = avail * e.cfg.FullCloseMargin
	} else if qty > avail {
		qty = avail
	}
	qty = truncateQty(qty)
	if qty <= 0 {
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: zero quantity: %w", pos.Symbol, domain.ErrInvalidInput)
	}

	res, err := e.exchange.CreateMarketSell(ctx, pos.Symbol, qty)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: sell %s: %w", pos.Symbol, err)
	}
	if res.Price <= 0 {
		res.Price = price
	}
	if res.Quantity <= 0 {
		res.Quantity = qty
	}
	res.Symbol = pos.Symbol
	res.Side = domain.OrderSideSell

	e.slippage.Record(pos.Symbol, domain.OrderSideSell, price, res.Price, res.Quantity)

	if fullClose {
		closed, err := e.positions.Close(ctx, pos.Symbol, res.Price)
		if err != nil {
			return res, fmt.Errorf("executor: sell %s: order filled but position not closed: %w", pos.Symbol, err)
		}
		e.risk.RegisterTradeResult(closed.PnL)
		e.breaker.RecordTrade(closed.PnL)
		e.tradeLog.LogExit(ctx, pos.Symbol, res.Price)
		log.InfoContext(ctx, "position closed",
			slog.Float64("exit_price", res.Price),
			slog.Float64("pnl", closed.PnL),
			slog.Float64("pnl_pct", closed.PnLPct),
		)
		return res, nil
	}

	log.InfoContext(ctx, "partial exit",
		slog.Float64("sold_qty", res.Quantity),
		slog.Float64("remaining_qty", pos.Quantity-res.Quantity),
	)
	return res, nil
}

// requestApproval registers the pending prompt and notifies the human
// channel. A prompt already outstanding for the symbol is not re-sent.
func (e *Engine) requestApproval(ctx context.Context, req ApprovalRequest) error {
	symbol := req.Symbol
	registered := e.guard.Begin(req, func(approved bool) {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		e.resolveApproval(rctx, req, approved)
	})
	if !registered {
		return nil
	}

	if e.notifier == nil {
		e.guard.Resolve(symbol, false)
		return fmt.Errorf("executor: approval needed for %s but no notifier configured", symbol)
	}

	var err error
	if req.Kind == ApprovalStopLoss {
		err = e.notifier.SendSLApprovalRequest(ctx, req)
	} else {
		err = e.notifier.SendApprovalRequest(ctx, req)
	}
	if err != nil {
		e.guard.Resolve(symbol, false)
		return fmt.Errorf("executor: approval request %s: %w", symbol, err)
	}
	e.logger.InfoContext(ctx, "approval requested",
		slog.String("symbol", symbol),
		slog.String("kind", string(req.Kind)),
		slog.Float64("pnl_pct", req.PnLPct),
	)
	return nil
}

// resolveApproval runs when the human answers. Approvals execute the exit;
// a rejected stop-loss prompt snoozes the stop for the hold window.
func (e *Engine) resolveApproval(ctx context.Context, req ApprovalRequest, approved bool) {
	log := e.logger.With(slog.String("symbol", req.Symbol), slog.String("kind", string(req.Kind)))

	if !approved {
		if req.Kind == ApprovalStopLoss {
			if err := e.positions.SetSLHold(ctx, req.Symbol, e.cfg.SLHold); err != nil {
				log.WarnContext(ctx, "stop-loss hold not set", slog.String("error", err.Error()))
			} else {
				log.InfoContext(ctx, "stop-loss snoozed", slog.Duration("hold", e.cfg.SLHold))
			}
		} else {
			log.InfoContext(ctx, "sell rejected by operator")
		}
		return
	}

	if _, err := e.Sell(ctx, req.Symbol, req.Reason, SellOpts{SkipApproval: true}); err != nil {
		log.WarnContext(ctx, "approved sell failed", slog.String("error", err.Error()))
	}
}

// HandleApproval delivers an asynchronous approve/reject resolution from the
// notification channel. Duplicate deliveries for the same prompt are no-ops.
func (e *Engine) HandleApproval(symbol string, approved bool) bool {
	return e.guard.Resolve(symbol, approved)
}

// PendingApproval reports whether the symbol awaits a human decision.
func (e *Engine) PendingApproval(symbol string) bool {
	return e.guard.Pending(symbol)
}

// CheckPositions runs one sweep over every open position. Per-symbol errors
// are logged and the sweep continues; one bad record never aborts the tick.
func (e *Engine) CheckPositions(ctx context.Context) {
	e.guard.Sweep()

	positions, err := e.positions.List(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "position sweep skipped", slog.String("error", err.Error()))
		return
	}

	for _, pos := range positions {
		price, ok := e.currentPrice(ctx, pos.Symbol)
		if !ok {
			continue
		}
		e.checkPosition(ctx, pos, price)
	}
}

// checkPosition applies the exit checks for one position in priority order:
// hard stop, AI-ratio stop, take-profit ladder, trailing stop, then DCA.
func (e *Engine) checkPosition(ctx context.Context, pos domain.Position, price float64) {
	log := e.logger.With(slog.String("symbol", pos.Symbol))

	entry := pos.EntryPrice
	if entry <= 0 {
		// Anomalous record: default to the current price so the sweep
		// continues, and repair the store.
		entry = price
		pos.EntryPrice = price
		if err := e.positions.Update(ctx, pos); err != nil {
			log.WarnContext(ctx, "entry price repair failed", slog.String("error", err.Error()))
		}
	}

	// 1. Hard stop. An active hold suppresses the confirmation prompt (and
	// the automatic exit that the prompt gates); other stop kinds below still
	// evaluate while held.
	if pos.StopPrice > 0 && price <= pos.StopPrice {
		if !e.positions.IsSLHeld(ctx, pos.Symbol) {
			if e.cfg.Mode == ModeSemi {
				if err := e.requestApproval(ctx, ApprovalRequest{
					Symbol:       pos.Symbol,
					Kind:         ApprovalStopLoss,
					Quantity:     pos.Quantity,
					CurrentPrice: price,
					EntryPrice:   entry,
					PnLPct:       (price - entry) / entry * 100,
					Reason:       "stop_loss",
					RequestedAt:  e.now(),
				}); err != nil {
					log.WarnContext(ctx, "stop-loss approval request failed", slog.String("error", err.Error()))
				}
				return
			}
			if _, err := e.Sell(ctx, pos.Symbol, "stop_loss", SellOpts{SkipApproval: true}); err != nil {
				log.WarnContext(ctx, "stop-loss exit failed", slog.String("error", err.Error()))
			}
			return
		}
	}

	// 2. AI-recommended stop ratio.
	if pos.AISLRatio > 0 && price <= entry*(1-pos.AISLRatio) {
		if _, err := e.Sell(ctx, pos.Symbol, "ai_stop_loss", SellOpts{SkipApproval: true}); err != nil {
			log.WarnContext(ctx, "ai stop exit failed", slog.String("error", err.Error()))
		}
		return
	}

	// 3. Take-profit ladder.
	for i := range pos.TPLevels {
		lvl := &pos.TPLevels[i]
		if lvl.Executed || price < lvl.Price {
			continue
		}
		last := i == len(pos.TPLevels)-1
		if last {
			// Final tier closes everything left, whatever quantity drift the
			// earlier partial fills introduced.
			if _, err := e.Sell(ctx, pos.Symbol, lvl.Name, SellOpts{SkipApproval: true}); err != nil {
				log.WarnContext(ctx, "ladder close failed", slog.String("tier", lvl.Name), slog.String("error", err.Error()))
			}
			return
		}

		qty := pos.InitialQty * lvl.Portion
		if qty > pos.Quantity {
			qty = pos.Quantity
		}
		res, err := e.executeSell(ctx, pos, price, qty, false, lvl.Name)
		if err != nil {
			log.WarnContext(ctx, "ladder tier failed", slog.String("tier", lvl.Name), slog.String("error", err.Error()))
			return
		}
		pos.Quantity -= res.Quantity
		if pos.Quantity < 0 {
			pos.Quantity = 0
		}
		lvl.Executed = true
		if i == 0 && !pos.Trailing.Enabled {
			pos.Trailing.Enabled = true
			pos.Trailing.HighestPrice = price
			log.InfoContext(ctx, "trailing stop armed", slog.Float64("highest", price))
		}
		if err := e.positions.Update(ctx, pos); err != nil {
			log.WarnContext(ctx, "ladder state not recorded", slog.String("error", err.Error()))
			return
		}
	}

	// 4. Trailing stop: arms on its own trigger when no tier has fired yet,
	// tracks a non-decreasing high, exits on the offset pullback.
	if !pos.Trailing.Enabled && pos.Trailing.Trigger > 0 && price >= entry*(1+pos.Trailing.Trigger) {
		pos.Trailing.Enabled = true
		pos.Trailing.HighestPrice = price
		if err := e.positions.Update(ctx, pos); err != nil {
			log.WarnContext(ctx, "trailing arm not recorded", slog.String("error", err.Error()))
		}
	}
	if pos.Trailing.Enabled {
		if price > pos.Trailing.HighestPrice {
			pos.Trailing.HighestPrice = price
			if err := e.positions.Update(ctx, pos); err != nil {
				log.WarnContext(ctx, "trailing high not recorded", slog.String("error", err.Error()))
			}
		}
		if price <= pos.Trailing.HighestPrice*(1-pos.Trailing.Offset) {
			if _, err := e.Sell(ctx, pos.Symbol, "trailing_stop", SellOpts{SkipApproval: true}); err != nil {
				log.WarnContext(ctx, "trailing exit failed", slog.String("error", err.Error()))
			}
			return
		}
	}

	// 5. Averaging-in.
	e.checkDCA(ctx, pos, price, entry)
}

// checkDCA averages into a drawdown once the next stage threshold is crossed
// and every risk gate allows it.
func (e *Engine) checkDCA(ctx context.Context, pos domain.Position, price, entry float64) {
	log := e.logger.With(slog.String("symbol", pos.Symbol))

	if len(e.cfg.DCAThresholds) == 0 || !e.breaker.CanTrade() {
		return
	}
	idx := pos.DCAStage
	if idx >= len(e.cfg.DCAThresholds) {
		idx = len(e.cfg.DCAThresholds) - 1
	}
	if price > entry*(1-e.cfg.DCAThresholds[idx]) {
		return
	}

	if check, err := e.risk.CheckDCALimit(ctx, pos.Symbol); err != nil || !check.Allowed {
		return
	}

	weight := pos.EntryRatio
	if weight <= 0 {
		weight = pos.Weight
	}
	amount, err := e.risk.TradeAmount(ctx, pos.Symbol, weight, domain.TradeContext{RegimeMult: 1}, pos.Confidence)
	if err != nil {
		log.WarnContext(ctx, "dca sizing failed", slog.String("error", err.Error()))
		return
	}
	if amount < e.cfg.MinOrderNotional {
		return
	}

	qty := truncateQty(amount / price)
	if qty <= 0 {
		return
	}
	res, err := e.exchange.CreateMarketBuy(ctx, pos.Symbol, qty)
	if err != nil {
		log.WarnContext(ctx, "dca buy failed", slog.String("error", err.Error()))
		return
	}
	if res.Price <= 0 {
		res.Price = price
	}
	if res.Quantity <= 0 {
		res.Quantity = qty
	}
	e.slippage.Record(pos.Symbol, domain.OrderSideBuy, price, res.Price, res.Quantity)

	updated, err := e.positions.AddDCA(ctx, pos.Symbol, res.Quantity, res.Price)
	if err != nil {
		log.WarnContext(ctx, "dca fill not recorded", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "averaged in",
		slog.Int("stage", updated.DCAStage),
		slog.Float64("qty", res.Quantity),
		slog.Float64("price", res.Price),
		slog.Float64("new_entry", updated.EntryPrice),
	)
}

// currentPrice resolves the symbol's latest price: websocket feed first, REST
// ticker as the fallback.
func (e *Engine) currentPrice(ctx context.Context, symbol string) (float64, bool) {
	if e.feed != nil {
		if price, ok := e.feed.Price(symbol); ok && price > 0 {
			return price, true
		}
	}
	ticker, err := e.exchange.FetchTicker(ctx, symbol)
	if err != nil || ticker.Last <= 0 {
		return 0, false
	}
	return ticker.Last, true
}

// truncateQty floors a quantity to the instrument precision (8 decimals)
// instead of rounding, so an order never exceeds the intended notional.
func truncateQty(qty float64) float64 {
	return math.Floor(qty*1e8) / 1e8
}
