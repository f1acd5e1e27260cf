// Package monitor contains the stop-loss core: trigger evaluation, position
// selection, and the periodic monitoring loop.
package monitor

import (
	"github.com/wkoss/polystop/internal/domain"
)

// Evaluate applies the stop-loss policy to one position. It is pure: no
// clock, no I/O, no mutation.
//
// Both triggers are inclusive at the boundary, and both reasons are reported
// when a position crosses both thresholds in the same cycle. A position with
// no cost basis (InitialValue <= 0) has PnLPercent 0 and can only trigger on
// price.
func Evaluate(pos domain.Position, policy domain.StopLossPolicy) domain.TriggerDecision {
	var reasons []domain.TriggerReason

	if policy.StopLossPercentage > 0 && pos.PnLPercent <= -policy.StopLossPercentage {
		reasons = append(reasons, domain.TriggerReasonPercentage)
	}
	if policy.StopLossPrice > 0 && pos.CurrentPrice <= policy.StopLossPrice {
		reasons = append(reasons, domain.TriggerReasonPrice)
	}

	return domain.TriggerDecision{
		Triggered: len(reasons) > 0,
		Reasons:   reasons,
	}
}
