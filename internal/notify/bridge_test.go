package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkoss/polystop/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testNotifier(events []string, senders ...Sender) *Notifier {
	return NewNotifier(senders, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func losingPosition() domain.Position {
	return domain.NewPosition("tok", "Will the thing happen this year maybe", "Yes", 100, 0.30, 30, 50)
}

func TestBridge_RendersTriggerFired(t *testing.T) {
	sender := &fakeSender{name: "test"}
	bridge := NewBridge(testNotifier(nil, sender))

	bridge.Handle(context.Background(), domain.TriggerFired{
		Position: losingPosition(),
		Reasons:  []domain.TriggerReason{domain.TriggerReasonPercentage, domain.TriggerReasonPrice},
		At:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})

	require.Len(t, sender.titles, 1)
	assert.Contains(t, sender.titles[0], "Stop loss triggered")

	body := sender.bodies[0]
	// Long market names are truncated in the display id.
	assert.Contains(t, body, "Will the thing happen this yea...")
	assert.Contains(t, body, "-40.00%")
	assert.Contains(t, body, "percentage, price")
	assert.Contains(t, body, "2025-06-01T12:00:00Z")
}

func TestBridge_PartialLiquidationGetsDistinctTitle(t *testing.T) {
	sender := &fakeSender{name: "test"}
	bridge := NewBridge(testNotifier(nil, sender))

	bridge.Handle(context.Background(), domain.LiquidationExecuted{
		Position: losingPosition(),
		Result:   domain.ExecutionResult{Success: true, OrdersPlaced: 2, TotalSizeOrdered: 80, RemainingSize: 20},
		At:       time.Now(),
	})
	bridge.Handle(context.Background(), domain.LiquidationExecuted{
		Position: losingPosition(),
		Result:   domain.ExecutionResult{Success: true, OrdersPlaced: 2, TotalSizeOrdered: 100},
		At:       time.Now(),
	})

	require.Len(t, sender.titles, 2)
	assert.Contains(t, sender.titles[0], "partially")
	assert.NotContains(t, sender.titles[1], "partially")
}

func TestNotifier_EventFilter(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := testNotifier([]string{"trigger_fired"}, sender)

	require.NoError(t, n.Notify(context.Background(), domain.EventCycleError, "t", "m"))
	assert.Empty(t, sender.titles)

	require.NoError(t, n.Notify(context.Background(), domain.EventTriggerFired, "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifier_OneSenderFailingDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("api down")}
	good := &fakeSender{name: "good"}
	n := testNotifier(nil, bad, good)

	err := n.Notify(context.Background(), domain.EventCycleError, "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	n := testNotifier(nil)
	assert.NoError(t, n.Notify(context.Background(), domain.EventCycleError, "t", "m"))
}
