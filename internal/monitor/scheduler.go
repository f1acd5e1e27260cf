package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wkoss/polystop/internal/domain"
	"github.com/wkoss/polystop/internal/events"
)

// defaultLockTTL bounds how long a crashed process can keep a token's
// liquidation guard held.
const defaultLockTTL = 5 * time.Minute

// PositionSource fetches the current portfolio for a wallet.
type PositionSource interface {
	GetPositions(ctx context.Context, user string) ([]domain.Position, error)
}

// Executor runs one liquidation.
type Executor interface {
	Liquidate(ctx context.Context, pos domain.Position) domain.ExecutionResult
}

// StatusPoller refreshes venue order statuses after a liquidation. Advisory;
// may be nil.
type StatusPoller interface {
	RefreshStatuses(ctx context.Context, orderIDs []string)
}

// Watcher is told which tokens are currently under watch so the live book
// feed can follow the monitored set. Advisory; may be nil.
type Watcher interface {
	Watch(ctx context.Context, tokenIDs []string) error
}

// SchedulerConfig holds the monitoring loop parameters. It is fixed at
// construction; the loop never mutates it.
type SchedulerConfig struct {
	// Wallet is the address whose positions are monitored.
	Wallet string

	// Interval is the cycle period.
	Interval time.Duration

	// Policy holds the trigger thresholds.
	Policy domain.StopLossPolicy

	// Selection fixes which positions are watched.
	Selection domain.Selection

	// DryRun logs and records triggers without placing orders.
	DryRun bool

	// LockTTL overrides the default liquidation guard TTL.
	LockTTL time.Duration
}

// Scheduler runs the monitoring loop: fetch positions, filter, evaluate,
// liquidate. One cycle failing never stops the loop. Liquidations within a
// cycle run sequentially; the per-token lock guards against a liquidation
// spanning cycles being started twice.
type Scheduler struct {
	source  PositionSource
	filter  *Filter
	exec    Executor
	poller  StatusPoller
	watcher Watcher
	locks   domain.LockManager
	ledger  domain.LedgerStore
	bus     *events.Bus
	cfg     SchedulerConfig
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	source PositionSource,
	exec Executor,
	poller StatusPoller,
	locks domain.LockManager,
	ledger domain.LedgerStore,
	bus *events.Bus,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Scheduler{
		source: source,
		filter: NewFilter(logger),
		exec:   exec,
		poller: poller,
		locks:  locks,
		ledger: ledger,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// WithWatcher attaches a book feed follower. Returns the scheduler for
// chaining during wiring.
func (s *Scheduler) WithWatcher(w Watcher) *Scheduler {
	s.watcher = w
	return s
}

// Run executes monitoring cycles until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.bus.Publish(domain.BotStarted{
		Mode:          modeLabel(s.cfg.DryRun),
		DryRun:        s.cfg.DryRun,
		CheckInterval: s.cfg.Interval,
		SelectionMode: s.cfg.Selection.Mode,
		At:            time.Now().UTC(),
	})

	s.logger.Info("monitoring started",
		slog.String("wallet", s.cfg.Wallet),
		slog.Duration("interval", s.cfg.Interval),
		slog.String("selection", string(s.cfg.Selection.Mode)),
		slog.Bool("dry_run", s.cfg.DryRun))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("cycle failed", slog.String("error", err.Error()))
			s.bus.Publish(domain.CycleError{Err: err.Error(), At: time.Now().UTC()})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle fetches, filters, evaluates, and liquidates once.
func (s *Scheduler) runCycle(ctx context.Context) error {
	positions, err := s.source.GetPositions(ctx, s.cfg.Wallet)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	watched := s.filter.Apply(positions, s.cfg.Selection, s.cfg.Policy.MinPositionValue)

	s.logger.Debug("cycle",
		slog.Int("positions", len(positions)),
		slog.Int("watched", len(watched)))
	for _, pos := range watched {
		s.logger.Debug("position",
			slog.String("token_id", pos.TokenID),
			slog.String("market", pos.DisplayID()),
			slog.Float64("size", pos.Size),
			slog.Float64("value", pos.CurrentValue),
			slog.Float64("pnl_percent", pos.PnLPercent))
	}

	if s.watcher != nil && len(watched) > 0 {
		ids := make([]string, 0, len(watched))
		for _, pos := range watched {
			ids = append(ids, pos.TokenID)
		}
		if err := s.watcher.Watch(ctx, ids); err != nil {
			s.logger.Debug("book feed watch failed", slog.String("error", err.Error()))
		}
	}

	for _, pos := range watched {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		decision := Evaluate(pos, s.cfg.Policy)
		if !decision.Triggered {
			continue
		}

		s.logger.Warn("stop loss triggered",
			slog.String("token_id", pos.TokenID),
			slog.String("position", pos.DisplayID()),
			slog.Float64("pnl_percent", pos.PnLPercent),
			slog.Float64("price", pos.CurrentPrice),
			slog.Any("reasons", decision.Reasons))

		s.bus.Publish(domain.TriggerFired{
			Position: pos,
			Reasons:  decision.Reasons,
			At:       time.Now().UTC(),
		})

		s.liquidate(ctx, pos, decision.Reasons)
	}

	return nil
}

// liquidate runs one guarded liquidation and records the outcome.
func (s *Scheduler) liquidate(ctx context.Context, pos domain.Position, reasons []domain.TriggerReason) {
	unlock, err := s.locks.Acquire(ctx, domain.LiquidationLockKey(pos.TokenID), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("liquidation already in flight, skipping",
				slog.String("token_id", pos.TokenID))
			return
		}
		s.logger.Error("liquidation guard unavailable, skipping",
			slog.String("token_id", pos.TokenID),
			slog.String("error", err.Error()))
		return
	}
	defer unlock()

	var result domain.ExecutionResult
	if s.cfg.DryRun {
		result = domain.ExecutionResult{
			Success:       true,
			RemainingSize: pos.Size,
			Reason:        "dry run",
		}
		s.logger.Info("dry run: would liquidate",
			slog.String("token_id", pos.TokenID),
			slog.Float64("size", pos.Size),
			slog.Float64("price", pos.CurrentPrice))
	} else {
		result = s.exec.Liquidate(ctx, pos)
	}

	s.record(ctx, pos, reasons, result)

	if result.Success && !s.cfg.DryRun {
		s.checkSlippage(pos, result)
		s.bus.Publish(domain.LiquidationExecuted{
			Position: pos,
			Result:   result,
			At:       time.Now().UTC(),
		})
		if s.poller != nil {
			s.poller.RefreshStatuses(ctx, receiptIDs(result.Receipts))
		}
	} else if !result.Success {
		s.bus.Publish(domain.ExecutionError{
			Position: pos,
			Reason:   result.Reason,
			At:       time.Now().UTC(),
		})
	}
}

// record appends the ledger entry. The ledger is write-only for the core; a
// store failure is logged, never propagated.
func (s *Scheduler) record(ctx context.Context, pos domain.Position, reasons []domain.TriggerReason, result domain.ExecutionResult) {
	rec := domain.LiquidationRecord{
		ID:         uuid.New().String(),
		TokenID:    pos.TokenID,
		MarketName: pos.MarketName,
		Outcome:    pos.Outcome,
		Size:       pos.Size,
		Value:      pos.CurrentValue,
		PnL:        pos.PnL,
		PnLPercent: pos.PnLPercent,
		Reasons:    reasons,
		Result:     result,
		DryRun:     s.cfg.DryRun,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.ledger.Append(ctx, rec); err != nil {
		s.logger.Error("ledger append failed",
			slog.String("token_id", pos.TokenID),
			slog.String("error", err.Error()))
	}
}

// checkSlippage compares the size-weighted order price against the mark price
// at trigger time. Advisory: the liquidation already happened.
func (s *Scheduler) checkSlippage(pos domain.Position, result domain.ExecutionResult) {
	if s.cfg.Policy.MaxSlippage <= 0 || pos.CurrentPrice <= 0 {
		return
	}
	var value, size float64
	for _, r := range result.Receipts {
		value += r.Price * r.Size
		size += r.Size
	}
	if size == 0 {
		return
	}
	avg := value / size
	slippage := (pos.CurrentPrice - avg) / pos.CurrentPrice
	if slippage > s.cfg.Policy.MaxSlippage {
		s.logger.Warn("liquidation slippage exceeded bound",
			slog.String("token_id", pos.TokenID),
			slog.Float64("mark_price", pos.CurrentPrice),
			slog.Float64("avg_order_price", avg),
			slog.Float64("slippage", slippage),
			slog.Float64("max_slippage", s.cfg.Policy.MaxSlippage))
	}
}

func receiptIDs(receipts []domain.OrderReceipt) []string {
	ids := make([]string, 0, len(receipts))
	for _, r := range receipts {
		if r.OrderID != "" {
			ids = append(ids, r.OrderID)
		}
	}
	return ids
}

func modeLabel(dryRun bool) string {
	if dryRun {
		return "monitor"
	}
	return "trade"
}
