package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bithumbbot/internal/cache/memory"
	"github.com/alanyoungcy/bithumbbot/internal/crypto"
	"github.com/alanyoungcy/bithumbbot/internal/decision"
	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/alanyoungcy/bithumbbot/internal/executor"
	"github.com/alanyoungcy/bithumbbot/internal/feed"
	"github.com/alanyoungcy/bithumbbot/internal/notify"
	"github.com/alanyoungcy/bithumbbot/internal/platform/bithumb"
	"github.com/alanyoungcy/bithumbbot/internal/service"
)

const (
	decisionChannel  = "decisions"
	decisionDedupTTL = 5 * time.Minute
	janitorInterval  = time.Minute
	oneShotLockTTL   = 5 * time.Minute
)

// RunMode starts the full service: websocket price feed, position sweep,
// decision loop, cache janitor, and (in semi mode) the approval poller.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode",
		slog.Any("symbols", a.cfg.Engine.Symbols),
		slog.String("engine_mode", a.cfg.Engine.Mode),
	)

	g, ctx := errgroup.WithContext(ctx)

	prices := feed.NewPriceStore(a.cfg.Feed.StaleAfter.Duration)
	eng, breaker, risk := a.buildEngine(deps, prices)

	notifier := deps.Notifier
	breaker.SetTripAlert(func(reason string) {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Notify(nctx, "breaker_tripped", "Circuit breaker tripped", reason); err != nil {
			a.logger.Warn("breaker trip notification failed", slog.String("error", err.Error()))
		}
	})
	a.seedDailyCapital(ctx, deps, breaker)

	// Websocket ticker feed keeps the price store warm; the engine falls back
	// to REST tickers when the feed is disabled or stale.
	if a.cfg.Feed.Enabled {
		ws := bithumb.NewWSClient(a.cfg.Feed.WSURL)
		tickerFeed := feed.NewTickerFeed(ws, prices, a.cfg.Engine.Symbols, deps.PriceCache, deps.SignalBus, a.root)
		g.Go(func() error {
			return tickerFeed.Run(ctx)
		})
	}

	// Expire stale REST cache entries.
	g.Go(func() error {
		memory.Janitor(ctx, janitorInterval, deps.Exchange.Caches()...)
		return ctx.Err()
	})

	// Position sweep: stops, ladder tiers, trailing, DCA.
	g.Go(func() error {
		interval := a.cfg.Engine.SweepInterval.Duration
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				eng.CheckPositions(ctx)
			}
		}
	})

	// Decision loop: AI recommendations arrive over the signal bus.
	if deps.SignalBus != nil {
		g.Go(func() error {
			return a.decisionLoop(ctx, deps, eng, risk)
		})
	} else {
		a.logger.InfoContext(ctx, "redis not configured; decision channel disabled, sweep-only operation")
	}

	// Approval poller: resolves semi-mode exit prompts from Telegram replies.
	if strings.EqualFold(a.cfg.Engine.Mode, "semi") && a.cfg.Notify.TelegramToken != "" {
		poller := notify.NewTelegramPoller(
			a.cfg.Notify.TelegramToken,
			a.cfg.Notify.TelegramChatID,
			eng.HandleApproval,
			a.root,
		)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	return g.Wait()
}

// decisionSignal is the bus envelope for one AI recommendation. The decision
// payload itself is normalized by the decision parser; missing multipliers
// default to 1 so an envelope without sizing context still trades at base
// size.
type decisionSignal struct {
	Symbol          string          `json:"symbol"`
	Decision        json.RawMessage `json:"decision"`
	MarketRiskLevel float64         `json:"market_risk_level"`
	RegimeMult      *float64        `json:"regime_mult"`
	TimeMult        *float64        `json:"time_mult"`
}

func (a *App) decisionLoop(ctx context.Context, deps *Dependencies, eng *executor.Engine, risk *service.RiskManager) error {
	ch, err := deps.SignalBus.Subscribe(ctx, decisionChannel)
	if err != nil {
		return fmt.Errorf("run mode: subscribe %s: %w", decisionChannel, err)
	}

	dedup := executor.NewDecisionDedup(decisionDedupTTL)
	cleanup := time.NewTicker(decisionDedupTTL)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			dedup.Cleanup()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			a.handleDecision(ctx, deps, eng, risk, dedup, payload)
		}
	}
}

func (a *App) handleDecision(
	ctx context.Context,
	deps *Dependencies,
	eng *executor.Engine,
	risk *service.RiskManager,
	dedup *executor.DecisionDedup,
	payload []byte,
) {
	var sig decisionSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		a.logger.WarnContext(ctx, "decision signal is not valid JSON, dropping",
			slog.String("error", err.Error()),
		)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(sig.Symbol))
	if symbol == "" {
		a.logger.WarnContext(ctx, "decision signal missing symbol, dropping")
		return
	}

	dec := decision.Parse(string(sig.Decision))
	if dec.Action == domain.DecisionHold {
		return
	}
	if dedup.IsDuplicate(symbol, dec.Action) {
		a.logger.DebugContext(ctx, "duplicate decision suppressed",
			slog.String("symbol", symbol),
			slog.String("action", string(dec.Action)),
		)
		return
	}

	risk.SetMarketRiskLevel(sig.MarketRiskLevel)
	tctx := domain.TradeContext{
		MarketRiskLevel: sig.MarketRiskLevel,
		RegimeMult:      multOrDefault(sig.RegimeMult),
		TimeMult:        multOrDefault(sig.TimeMult),
	}

	switch dec.Action {
	case domain.DecisionBuy:
		res, err := eng.Buy(ctx, symbol, dec, tctx)
		if err != nil {
			a.logger.WarnContext(ctx, "buy decision not executed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		a.notifyTrade(ctx, deps, "position_opened", "Buy executed", symbol, res)
	case domain.DecisionSell:
		reason := dec.Reason
		if reason == "" {
			reason = "sell recommendation"
		}
		res, err := eng.Sell(ctx, symbol, reason, executor.SellOpts{})
		if err != nil {
			a.logger.WarnContext(ctx, "sell decision not executed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		a.notifyTrade(ctx, deps, "position_closed", "Sell executed", symbol, res)
	}
}

func multOrDefault(v *float64) float64 {
	if v == nil {
		return 1
	}
	return *v
}

func (a *App) notifyTrade(ctx context.Context, deps *Dependencies, event, title, symbol string, res domain.OrderResult) {
	msg := fmt.Sprintf("%s %s qty %.8f @ %.0f", symbol, res.Side, res.Quantity, res.Price)
	if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.WarnContext(ctx, "trade notification failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// SweepMode runs one position sweep and exits.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")
	return a.withLock(ctx, deps.Locks, "sweep", func() error {
		prices := feed.NewPriceStore(a.cfg.Feed.StaleAfter.Duration)
		eng, _, _ := a.buildEngine(deps, prices)
		eng.CheckPositions(ctx)
		return nil
	})
}

// ReconcileMode runs one reconciliation pass against the exchange's balances
// and exits.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")
	return a.withLock(ctx, deps.Locks, "reconcile", func() error {
		balances, err := deps.Exchange.FetchBalance(ctx)
		if err != nil {
			return fmt.Errorf("reconcile mode: fetch balance: %w", err)
		}

		avgCost := domain.PriceLookup(func(symbol string) (float64, bool) {
			v, err := deps.Exchange.AverageBuyPrice(ctx, symbol)
			if err != nil || v <= 0 {
				return 0, false
			}
			return v, true
		})
		price := domain.PriceLookup(func(symbol string) (float64, bool) {
			t, err := deps.Exchange.FetchTicker(ctx, symbol)
			if err != nil || t.Last <= 0 {
				return 0, false
			}
			return t.Last, true
		})

		report, err := deps.Positions.Reconcile(ctx, balances, avgCost, price)
		if err != nil {
			return fmt.Errorf("reconcile mode: %w", err)
		}

		a.logger.InfoContext(ctx, "reconciliation report",
			slog.Any("added", report.Added),
			slog.Any("removed", report.Removed),
			slog.Int("matched", report.Matched),
			slog.Any("errors", report.Errors),
		)
		if deps.SignalBus != nil {
			if payload, err := json.Marshal(report); err == nil {
				if err := deps.SignalBus.Publish(ctx, "reconcile", payload); err != nil {
					a.logger.WarnContext(ctx, "reconcile report publish failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
		return nil
	})
}

// ArchiveMode moves journal rows older than the retention window to object
// storage and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return errors.New("archive mode requires both s3 and postgres to be configured")
	}

	retention := a.cfg.S3.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retention)

	return a.withLock(ctx, deps.Locks, "archive", func() error {
		trades, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive mode: trades: %w", err)
		}
		audit, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive mode: audit: %w", err)
		}
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Time("cutoff", cutoff),
			slog.Int64("trades", trades),
			slog.Int64("audit_rows", audit),
		)
		return nil
	})
}

// EncryptKeyMode encrypts the raw API secret into the configured key file and
// exits. The raw secret and password come from config or the BITBOT_*
// environment overrides.
func (a *App) EncryptKeyMode(ctx context.Context) error {
	path := a.cfg.Exchange.EncryptedSecretPath
	if path == "" {
		return errors.New("encrypt-key mode: exchange.encrypted_secret_path must be set")
	}
	if a.cfg.Exchange.APISecret == "" {
		return errors.New("encrypt-key mode: exchange.api_secret must hold the raw secret to encrypt")
	}
	if a.cfg.Exchange.SecretPassword == "" {
		return errors.New("encrypt-key mode: exchange.secret_password must be set")
	}

	data, err := crypto.EncryptSecret(a.cfg.Exchange.APISecret, a.cfg.Exchange.SecretPassword)
	if err != nil {
		return fmt.Errorf("encrypt-key mode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("encrypt-key mode: write key file: %w", err)
	}

	a.logger.InfoContext(ctx, "encrypted secret written", slog.String("path", path))
	return nil
}

// buildEngine assembles the risk manager, circuit breaker, and execution
// engine from configuration. The returned breaker is already registered as
// the exchange client's health recorder.
func (a *App) buildEngine(deps *Dependencies, prices domain.PriceFeed) (*executor.Engine, *service.CircuitBreaker, *service.RiskManager) {
	riskCfg := service.DefaultRiskConfig()
	riskCfg.QuoteCurrency = a.cfg.Exchange.QuoteCurrency
	riskCfg.FixedCapital = a.cfg.Risk.FixedCapital
	riskCfg.UseBalanceCapital = a.cfg.Risk.UseBalanceCapital || a.cfg.Risk.FixedCapital <= 0
	riskCfg.SafetyMargin = a.cfg.Risk.SafetyMargin
	riskCfg.MinOrderNotional = a.cfg.Risk.MinOrderNotional
	riskCfg.FreeBalanceClamp = a.cfg.Risk.FreeBalanceClamp
	riskCfg.WeightCap = a.cfg.Risk.WeightCap
	riskCfg.MaxDCACount = a.cfg.Risk.MaxDCACount
	riskCfg.DrawdownLimit = a.cfg.Risk.DrawdownLimit
	riskCfg.DailyLossLimit = a.cfg.Risk.DailyLossLimit
	riskCfg.MaxLossStreak = a.cfg.Risk.MaxLossStreak
	riskCfg.Aggressive = a.cfg.Risk.Aggressive

	risk := service.NewRiskManager(deps.Exchange, deps.Positions, prices, riskCfg, a.root)

	breaker := service.NewCircuitBreaker(service.BreakerConfig{
		MaxConsecutiveLosses: a.cfg.Breaker.MaxConsecutiveLosses,
		MaxDailyLossPct:      a.cfg.Breaker.MaxDailyLossPct,
		MaxAPIFailures:       a.cfg.Breaker.MaxAPIFailures,
		Cooldown:             a.cfg.Breaker.Cooldown.Duration,
	}, a.root)
	deps.Exchange.SetHealthRecorder(breaker)

	slippage := service.NewSlippageTracker(a.root)
	tradeLog := service.NewTradeLogger(deps.TradeStore, deps.AuditStore, a.root)

	mode := executor.ModeAuto
	var notifier executor.Notifier
	if strings.EqualFold(a.cfg.Engine.Mode, "semi") {
		mode = executor.ModeSemi
		notifier = notify.NewApprovalNotifier(deps.Notifier)
	}

	eng := executor.NewEngine(deps.Exchange, deps.Positions, prices, risk, breaker, slippage, tradeLog, notifier, executor.Config{
		Mode:             mode,
		QuoteCurrency:    a.cfg.Exchange.QuoteCurrency,
		MinOrderNotional: a.cfg.Risk.MinOrderNotional,
		TrailingTrigger:  a.cfg.Engine.TrailingTrigger,
		TrailingOffset:   a.cfg.Engine.TrailingOffset,
		DCAThresholds:    a.cfg.Engine.DCAThresholds,
		SLHold:           a.cfg.Engine.SLHold.Duration,
		ApprovalTTL:      a.cfg.Engine.ApprovalTTL.Duration,
		FullCloseMargin:  a.cfg.Engine.FullCloseMargin,
	}, a.root)

	return eng, breaker, risk
}

// seedDailyCapital gives the breaker an equity base so the daily loss limit
// can be expressed as a percentage. Best effort; an unreachable balance
// endpoint only delays the percentage check until the first trade.
func (a *App) seedDailyCapital(ctx context.Context, deps *Dependencies, breaker *service.CircuitBreaker) {
	if a.cfg.Risk.FixedCapital > 0 {
		breaker.SetDailyCapital(a.cfg.Risk.FixedCapital)
		return
	}
	balances, err := deps.Exchange.FetchBalance(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "daily capital seed skipped, balance fetch failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if b, ok := balances[a.cfg.Exchange.QuoteCurrency]; ok && b.Total > 0 {
		breaker.SetDailyCapital(b.Total)
	}
}

// withLock runs fn under the named distributed lock when Redis is wired, so
// two instances never run the same one-shot pass concurrently. Without Redis
// fn runs directly.
func (a *App) withLock(ctx context.Context, locks domain.LockManager, name string, fn func() error) error {
	if locks == nil {
		return fn()
	}
	release, err := locks.Acquire(ctx, name, oneShotLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.WarnContext(ctx, "another instance holds the lock, skipping",
				slog.String("lock", name),
			)
			return nil
		}
		return fmt.Errorf("acquire lock %q: %w", name, err)
	}
	defer release()
	return fn()
}
