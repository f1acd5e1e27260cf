package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkoss/polystop/internal/domain"
	"github.com/wkoss/polystop/internal/events"
)

type fakeSource struct {
	mu        sync.Mutex
	responses [][]domain.Position
	errs      []error
	calls     int
}

func (f *fakeSource) GetPositions(ctx context.Context, user string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return nil, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []domain.Position
	result domain.ExecutionResult
}

func (f *fakeExecutor) Liquidate(ctx context.Context, pos domain.Position) domain.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pos)
	return f.result
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records []domain.LiquidationRecord
	err     error
}

func (f *fakeLedger) Append(ctx context.Context, rec domain.LiquidationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLedger) List(ctx context.Context, opts domain.ListOpts) ([]domain.LiquidationRecord, error) {
	return nil, nil
}

func (f *fakeLedger) ListBefore(ctx context.Context, before time.Time) ([]domain.LiquidationRecord, error) {
	return nil, nil
}

func losingPosition(tokenID string) domain.Position {
	return domain.NewPosition(tokenID, "Market", "Yes", 100, 0.30, 30, 50)
}

func newTestScheduler(source PositionSource, exec Executor, locks domain.LockManager, ledger domain.LedgerStore, cfg SchedulerConfig) (*Scheduler, *events.Bus) {
	logger := discardLogger()
	bus := events.NewBus(logger)
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Wallet == "" {
		cfg.Wallet = "0xwallet"
	}
	return NewScheduler(source, exec, nil, locks, ledger, bus, cfg, logger), bus
}

func TestScheduler_CycleLiquidatesTriggeredPositions(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{
		losingPosition("a"),
		domain.NewPosition("b", "Market", "Yes", 100, 0.80, 80, 50), // profitable
	}}}
	exec := &fakeExecutor{result: domain.ExecutionResult{Success: true, OrdersPlaced: 1}}
	ledger := &fakeLedger{}

	s, _ := newTestScheduler(source, exec, &fakeLocks{}, ledger, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
	})

	require.NoError(t, s.runCycle(context.Background()))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "a", exec.calls[0].TokenID)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, "a", ledger.records[0].TokenID)
	assert.NotEmpty(t, ledger.records[0].ID)
	assert.False(t, ledger.records[0].DryRun)
}

func TestScheduler_SelectionNoneLiquidatesNothing(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{losingPosition("a")}}}
	exec := &fakeExecutor{}

	s, _ := newTestScheduler(source, exec, &fakeLocks{}, &fakeLedger{}, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionNone, nil),
	})

	require.NoError(t, s.runCycle(context.Background()))
	assert.Empty(t, exec.calls)
}

func TestScheduler_HeldLockSkipsLiquidation(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{losingPosition("a")}}}
	exec := &fakeExecutor{result: domain.ExecutionResult{Success: true}}
	locks := &fakeLocks{held: map[string]bool{"liquidate:a": true}}
	ledger := &fakeLedger{}

	s, _ := newTestScheduler(source, exec, locks, ledger, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
	})

	require.NoError(t, s.runCycle(context.Background()))

	assert.Empty(t, exec.calls)
	assert.Empty(t, ledger.records)
}

func TestScheduler_LockReleasedAfterLiquidation(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{losingPosition("a")}}}
	exec := &fakeExecutor{result: domain.ExecutionResult{Success: true}}
	locks := &fakeLocks{}

	s, _ := newTestScheduler(source, exec, locks, &fakeLedger{}, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
	})

	require.NoError(t, s.runCycle(context.Background()))
	assert.False(t, locks.held["liquidate:a"])
}

func TestScheduler_DryRunRecordsWithoutExecuting(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{losingPosition("a")}}}
	exec := &fakeExecutor{}
	ledger := &fakeLedger{}

	s, _ := newTestScheduler(source, exec, &fakeLocks{}, ledger, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
		DryRun:    true,
	})

	require.NoError(t, s.runCycle(context.Background()))

	assert.Empty(t, exec.calls)
	require.Len(t, ledger.records, 1)
	assert.True(t, ledger.records[0].DryRun)
	assert.True(t, ledger.records[0].Result.Success)
	assert.InDelta(t, 100, ledger.records[0].Result.RemainingSize, 1e-9)
}

func TestScheduler_LedgerFailureDoesNotStopCycle(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{losingPosition("a"), losingPosition("b")}}}
	exec := &fakeExecutor{result: domain.ExecutionResult{Success: true}}
	ledger := &fakeLedger{err: errors.New("db down")}

	s, _ := newTestScheduler(source, exec, &fakeLocks{}, ledger, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
	})

	require.NoError(t, s.runCycle(context.Background()))
	assert.Len(t, exec.calls, 2)
}

func TestScheduler_RunSurvivesFailedCycles(t *testing.T) {
	source := &fakeSource{
		errs:      []error{errors.New("api down"), nil},
		responses: [][]domain.Position{nil, {losingPosition("a")}},
	}
	exec := &fakeExecutor{result: domain.ExecutionResult{Success: true}}

	s, bus := newTestScheduler(source, exec, &fakeLocks{}, &fakeLedger{}, SchedulerConfig{
		Interval:  10 * time.Millisecond,
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	bus.Drain()

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The first cycle failed; the loop carried on and liquidated in a later
	// cycle.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.NotEmpty(t, exec.calls)
}

func TestScheduler_PublishesTriggerAndExecutionEvents(t *testing.T) {
	source := &fakeSource{responses: [][]domain.Position{{losingPosition("a")}}}
	exec := &fakeExecutor{result: domain.ExecutionResult{Success: true, OrdersPlaced: 1}}

	s, bus := newTestScheduler(source, exec, &fakeLocks{}, &fakeLedger{}, SchedulerConfig{
		Policy:    domain.StopLossPolicy{StopLossPercentage: 20},
		Selection: domain.NewSelection(domain.SelectionAll, nil),
	})

	var mu sync.Mutex
	var seen []domain.EventType
	bus.Subscribe(func(ctx context.Context, ev domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type())
	})

	require.NoError(t, s.runCycle(context.Background()))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, domain.EventTriggerFired)
	assert.Contains(t, seen, domain.EventLiquidationExecuted)
}
