package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/alanyoungcy/bithumbbot/internal/platform/bithumb"
)

// priceSignal is the payload published on the prices channel for each update.
type priceSignal struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
}

// TickerFeed connects the Bithumb websocket ticker stream to the in-process
// PriceStore and, when configured, mirrors updates into the shared price
// cache and signal bus so other processes see the same quotes.
type TickerFeed struct {
	ws      *bithumb.WSClient
	store   *PriceStore
	symbols []string

	cache domain.PriceCache // optional
	bus   domain.SignalBus  // optional

	logger *slog.Logger
}

// NewTickerFeed creates a feed for the given coin symbols (e.g. "BTC").
// cache and bus may be nil; the in-process store is always updated.
func NewTickerFeed(
	ws *bithumb.WSClient,
	store *PriceStore,
	symbols []string,
	cache domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *TickerFeed {
	return &TickerFeed{
		ws:      ws,
		store:   store,
		symbols: symbols,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "ticker_feed")),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled. Reconnection
// after a dropped connection is handled inside the websocket client; Run only
// returns once the feed is shut down.
func (f *TickerFeed) Run(ctx context.Context) error {
	f.ws.OnTicker(f.handleTick)

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := f.ws.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	if err := f.ws.SubscribeTicker(ctx, f.symbols); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	f.logger.InfoContext(ctx, "ticker feed started",
		slog.Any("symbols", f.symbols))

	<-ctx.Done()
	if err := f.ws.Close(); err != nil {
		f.logger.WarnContext(ctx, "websocket close failed",
			slog.String("error", err.Error()))
	}
	return ctx.Err()
}

func (f *TickerFeed) handleTick(symbol string, price float64, ts time.Time) {
	f.store.Set(symbol, price, ts)

	if f.cache == nil && f.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if f.cache != nil {
		if err := f.cache.SetPrice(ctx, symbol, price, ts); err != nil {
			f.logger.WarnContext(ctx, "price cache update failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}

	if f.bus != nil {
		payload, err := json.Marshal(priceSignal{Symbol: symbol, Price: price, TS: ts})
		if err == nil {
			if err := f.bus.Publish(ctx, "prices", payload); err != nil {
				f.logger.WarnContext(ctx, "price publish failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()))
			}
		}
	}
}
