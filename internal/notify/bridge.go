package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

// Bridge renders typed domain events into operator notifications. It
// subscribes to the event bus; the monitoring core knows nothing about
// notification channels.
type Bridge struct {
	notifier *Notifier
}

// NewBridge creates a Bridge delivering through the given Notifier.
func NewBridge(notifier *Notifier) *Bridge {
	return &Bridge{notifier: notifier}
}

// Handle renders one event and forwards it. It satisfies the event bus
// Handler signature.
func (b *Bridge) Handle(ctx context.Context, ev domain.Event) {
	title, message := render(ev)
	if title == "" {
		return
	}
	_ = b.notifier.Notify(ctx, ev.Type(), title, message)
}

func render(ev domain.Event) (title, message string) {
	switch e := ev.(type) {
	case domain.BotStarted:
		title = "🤖 Stop loss bot started"
		message = fmt.Sprintf("Mode: %s\nDry run: %v\nCheck interval: %s\nSelection: %s",
			e.Mode, e.DryRun, e.CheckInterval, e.SelectionMode)

	case domain.TriggerFired:
		title = "🚨 Stop loss triggered"
		message = fmt.Sprintf("%s\nP&L: %.2f%% (%.2f USDC)\nPrice: %.4f\nReasons: %s",
			e.Position.DisplayID(), e.Position.PnLPercent, e.Position.PnL,
			e.Position.CurrentPrice, joinReasons(e.Reasons))

	case domain.LiquidationExecuted:
		if e.Result.RemainingSize > 0 {
			title = "⚠️ Liquidation partially executed"
		} else {
			title = "✅ Liquidation executed"
		}
		message = fmt.Sprintf("%s\nOrders placed: %d\nSize ordered: %.2f\nRemaining: %.2f",
			e.Position.DisplayID(), e.Result.OrdersPlaced,
			e.Result.TotalSizeOrdered, e.Result.RemainingSize)

	case domain.ExecutionError:
		title = "❌ Liquidation failed"
		message = fmt.Sprintf("%s\n%s", e.Position.DisplayID(), e.Reason)

	case domain.CycleError:
		title = "⚠️ Monitoring cycle error"
		message = fmt.Sprintf("%s\nThe bot keeps running and retries next cycle.", e.Err)
	}

	if message != "" {
		message += "\n" + ev.OccurredAt().UTC().Format(time.RFC3339)
	}
	return title, message
}

func joinReasons(reasons []domain.TriggerReason) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}
