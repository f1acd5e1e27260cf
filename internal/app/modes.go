package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wkoss/polystop/internal/crypto"
	"github.com/wkoss/polystop/internal/domain"
	"github.com/wkoss/polystop/internal/executor"
	"github.com/wkoss/polystop/internal/feed"
	"github.com/wkoss/polystop/internal/monitor"
	"github.com/wkoss/polystop/internal/platform/polymarket"
	"github.com/wkoss/polystop/internal/service"
)

// MonitorMode runs the stop-loss loop without placing orders. Triggers are
// evaluated, logged, recorded in the ledger, and notified, but no wallet key
// is loaded and no CLOB connection is made.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	selection, err := a.resolveSelection(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	dataClient := polymarket.NewDataClient(a.cfg.Polymarket.DataHost, a.logger)

	sched := monitor.NewScheduler(
		dataClient,
		nil, // no executor: monitor mode is always dry-run
		nil,
		deps.LockManager,
		deps.Ledger,
		deps.Bus,
		a.schedulerConfig(selection, true),
		a.logger,
	)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// TradeMode runs the full stop-loss pipeline: monitoring, liquidation through
// the CLOB, live book feed, and order status polling. With stop_loss.dry_run
// set it degrades to monitor behavior without loading a wallet key.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("dry_run", a.cfg.StopLoss.DryRun),
	)

	g, ctx := errgroup.WithContext(ctx)

	selection, err := a.resolveSelection(ctx, deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	dataClient := polymarket.NewDataClient(a.cfg.Polymarket.DataHost, a.logger)

	var exec monitor.Executor
	var poller monitor.StatusPoller
	if !a.cfg.StopLoss.DryRun {
		liq, orderSvc, err := a.buildLiquidator(ctx, deps)
		if err != nil {
			return fmt.Errorf("trade mode: %w", err)
		}
		exec = liq
		poller = orderSvc
	}

	sched := monitor.NewScheduler(
		dataClient,
		exec,
		poller,
		deps.LockManager,
		deps.Ledger,
		deps.Bus,
		a.schedulerConfig(selection, a.cfg.StopLoss.DryRun),
		a.logger,
	)

	// Live book feed keeps the cached best bid fresh so liquidations rarely
	// need a REST book query. Pointless in dry-run: nothing reads prices.
	if !a.cfg.StopLoss.DryRun && a.cfg.Polymarket.WsHost != "" {
		bookFeed := feed.NewBookFeed(a.cfg.Polymarket.WsHost, deps.BookCache, a.logger)
		sched.WithWatcher(bookFeed)
		g.Go(func() error {
			return bookFeed.Run(ctx)
		})
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// buildLiquidator creates the live execution pipeline: signer -> clobClient ->
// orderService -> liquidator. The API key derivation must succeed before any
// monitoring starts; a bot that cannot sell must not pretend to protect.
func (a *App) buildLiquidator(ctx context.Context, deps *Dependencies) (*executor.Liquidator, *service.OrderService, error) {
	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build liquidator: load key: %w", err)
	}

	signer, err := crypto.NewSigner(privateKey, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("build liquidator: create signer: %w", err)
	}

	clobClient := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer)
	if err := clobClient.DeriveAPIKey(ctx); err != nil {
		return nil, nil, fmt.Errorf("build liquidator: derive API key: %w", err)
	}

	orderSvc := service.NewOrderService(
		deps.Orders,
		deps.RateLimiter,
		signer,
		clobClient,
		service.OrderServiceConfig{
			FunderAddress: a.cfg.Wallet.FunderAddress,
			SignatureType: a.cfg.Polymarket.SignatureType,
		},
		a.logger,
	)

	priceSvc := service.NewPriceService(
		deps.BookCache,
		clobClient,
		time.Duration(a.cfg.Executor.BookCacheMaxAgeSecs)*time.Second,
		a.logger,
	)

	liq := executor.NewLiquidator(orderSvc, priceSvc, executor.Config{
		MaxChunkSize:       a.cfg.Executor.MaxChunkSize,
		DustThreshold:      a.cfg.Executor.DustThreshold,
		MaxRetriesPerChunk: a.cfg.Executor.MaxRetriesPerChunk,
		SettleDelay:        time.Duration(a.cfg.Executor.SettleDelaySeconds) * time.Second,
	}, a.logger)

	return liq, orderSvc, nil
}

// resolveSelection builds the monitoring selection from config, merging the
// persisted selected set for the "selected" mode. The persisted set wins over
// the config list when both exist; a store read failure falls back to the
// config list so a flaky database never silently widens the watch set.
func (a *App) resolveSelection(ctx context.Context, deps *Dependencies) (domain.Selection, error) {
	mode := domain.SelectionMode(strings.ToLower(a.cfg.StopLoss.SelectionMode))

	if mode != domain.SelectionSelected {
		if mode == domain.SelectionNone {
			a.logger.WarnContext(ctx, "selection mode is none: no positions will be monitored")
		}
		return domain.NewSelection(mode, nil), nil
	}

	tokenIDs := a.cfg.StopLoss.SelectedTokenIDs
	stored, err := deps.Selections.Load(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "loading persisted selection failed, using config list",
			slog.String("error", err.Error()),
		)
	} else if len(stored) > 0 {
		tokenIDs = stored
	}

	if len(tokenIDs) == 0 {
		a.logger.WarnContext(ctx, "selected mode with an empty token list monitors nothing")
	}

	a.logger.InfoContext(ctx, "selection resolved",
		slog.String("mode", string(mode)),
		slog.Int("tokens", len(tokenIDs)),
	)

	return domain.NewSelection(mode, tokenIDs), nil
}

// schedulerConfig translates the loaded config into the scheduler's runtime
// parameters.
func (a *App) schedulerConfig(selection domain.Selection, dryRun bool) monitor.SchedulerConfig {
	return monitor.SchedulerConfig{
		Wallet:   a.cfg.Wallet.FunderAddress,
		Interval: time.Duration(a.cfg.StopLoss.CheckIntervalSeconds) * time.Second,
		Policy: domain.StopLossPolicy{
			StopLossPercentage: a.cfg.StopLoss.StopLossPercentage,
			StopLossPrice:      a.cfg.StopLoss.StopLossPrice,
			MinPositionValue:   a.cfg.StopLoss.MinPositionValue,
			MaxSlippage:        a.cfg.StopLoss.MaxSlippage,
		},
		Selection: selection,
		DryRun:    dryRun,
	}
}

// startArchiver adds the periodic ledger archiver goroutine when S3 archiving
// is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}
