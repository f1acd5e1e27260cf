package domain

import "time"

// SelectionMode controls which positions the bot monitors.
type SelectionMode string

const (
	// SelectionNone monitors nothing. A Selected mode with an empty token
	// set is equivalent to None; it never falls back to All.
	SelectionNone     SelectionMode = "none"
	SelectionAll      SelectionMode = "all"
	SelectionSelected SelectionMode = "selected"
)

// Selection is an immutable monitoring selection: a mode plus, for
// SelectionSelected, the set of token ids under watch.
type Selection struct {
	Mode     SelectionMode
	TokenIDs map[string]bool
}

// NewSelection builds a Selection from a mode and a token id list.
func NewSelection(mode SelectionMode, tokenIDs []string) Selection {
	set := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		if id != "" {
			set[id] = true
		}
	}
	return Selection{Mode: mode, TokenIDs: set}
}

// StopLossPolicy holds the trigger thresholds. StopLossPrice == 0 means the
// absolute price trigger is disabled.
type StopLossPolicy struct {
	StopLossPercentage float64 // positive loss magnitude, e.g. 20 means -20%
	StopLossPrice      float64 // absolute price floor, 0 = unset
	MinPositionValue   float64
	MaxSlippage        float64 // advisory bound, not enforced
}

// TriggerReason identifies why a stop loss fired.
type TriggerReason string

const (
	TriggerReasonPercentage TriggerReason = "percentage"
	TriggerReasonPrice      TriggerReason = "price"
)

// TriggerDecision is the outcome of evaluating one position against a policy.
// Both reasons are present when a position is simultaneously percentage- and
// price-triggered.
type TriggerDecision struct {
	Triggered bool
	Reasons   []TriggerReason
}

// ExecutionResult summarizes one liquidation attempt for a position.
type ExecutionResult struct {
	Success          bool
	OrdersPlaced     int
	TotalSizeOrdered float64
	RemainingSize    float64
	Receipts         []OrderReceipt
	Reason           string // error reason when Success is false
}

// LiquidationRecord is one append-only ledger entry: the position summary at
// trigger time plus the execution outcome. The ledger is never read back by
// the monitoring core.
type LiquidationRecord struct {
	ID         string
	TokenID    string
	MarketName string
	Outcome    string
	Size       float64
	Value      float64
	PnL        float64
	PnLPercent float64
	Reasons    []TriggerReason
	Result     ExecutionResult
	DryRun     bool
	CreatedAt  time.Time
}
