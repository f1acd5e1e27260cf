// Package feed keeps the orderbook cache warm from the CLOB WebSocket so
// price discovery during a liquidation rarely needs a REST round trip.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wkoss/polystop/internal/domain"
	"github.com/wkoss/polystop/internal/platform/polymarket"
)

// cacheWriteTimeout bounds each cache write triggered by a WS message.
const cacheWriteTimeout = 5 * time.Second

// BookFeed subscribes to the market channel for the tokens under watch and
// mirrors snapshots and level updates into the orderbook cache. The watched
// set follows the scheduler: Watch is called each cycle with the current
// monitored tokens and only new ones are subscribed.
type BookFeed struct {
	wsURL  string
	cache  domain.OrderbookCache
	logger *slog.Logger

	mu         sync.Mutex
	client     *polymarket.WSClient
	subscribed map[string]bool
}

// NewBookFeed creates a BookFeed writing into the given cache.
func NewBookFeed(wsURL string, cache domain.OrderbookCache, logger *slog.Logger) *BookFeed {
	return &BookFeed{
		wsURL:      wsURL,
		cache:      cache,
		logger:     logger.With(slog.String("component", "book_feed")),
		subscribed: make(map[string]bool),
	}
}

// Run connects and blocks until the context is cancelled. Reconnects are
// handled inside the WS client; cached snapshots carry timestamps, so a gap
// during reconnect surfaces as staleness, never as wrong prices.
func (f *BookFeed) Run(ctx context.Context) error {
	client := polymarket.NewWSClient(f.wsURL)

	client.OnBookUpdate(func(snap domain.OrderbookSnapshot) {
		cctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := f.cache.SetSnapshot(cctx, snap.AssetID, snap); err != nil {
			f.logger.Warn("cache snapshot write failed",
				slog.String("asset_id", snap.AssetID),
				slog.String("error", err.Error()))
		}
	})
	client.OnPriceChange(func(change domain.PriceChange) {
		cctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := f.cache.UpdateLevel(cctx, change.AssetID, change.Side, change.Price, change.Size); err != nil {
			f.logger.Warn("cache level update failed",
				slog.String("asset_id", change.AssetID),
				slog.String("error", err.Error()))
		}
	})

	if err := client.Connect(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	f.logger.Info("book feed connected")

	<-ctx.Done()

	f.mu.Lock()
	f.client = nil
	f.mu.Unlock()

	_ = client.Close()
	return ctx.Err()
}

// Watch subscribes to any tokens not already subscribed. Safe to call every
// cycle; already-watched tokens are skipped. Before Run has connected, Watch
// is a no-op.
func (f *BookFeed) Watch(ctx context.Context, tokenIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client == nil {
		return nil
	}

	fresh := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if !f.subscribed[id] {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := f.client.Subscribe(ctx, fresh); err != nil {
		return err
	}
	for _, id := range fresh {
		f.subscribed[id] = true
	}

	f.logger.Info("book feed watching new tokens", slog.Int("count", len(fresh)))
	return nil
}
