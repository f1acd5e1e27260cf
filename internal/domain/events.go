package domain

import "time"

// EventType names the structured events the bot emits. Subscribers (console
// printer, Telegram/Discord senders, audit sink) render these themselves;
// no subscriber ever parses formatted log text.
type EventType string

const (
	EventBotStarted          EventType = "bot_started"
	EventTriggerFired        EventType = "trigger_fired"
	EventLiquidationExecuted EventType = "liquidation_executed"
	EventExecutionError      EventType = "execution_error"
	EventCycleError          EventType = "cycle_error"
)

// Event is implemented by every event variant.
type Event interface {
	Type() EventType
	OccurredAt() time.Time
}

// BotStarted is emitted once when the monitoring loop begins.
type BotStarted struct {
	Mode          string
	DryRun        bool
	CheckInterval time.Duration
	SelectionMode SelectionMode
	At            time.Time
}

func (e BotStarted) Type() EventType       { return EventBotStarted }
func (e BotStarted) OccurredAt() time.Time { return e.At }

// TriggerFired is emitted when a monitored position crosses a stop-loss
// threshold, before any order is placed.
type TriggerFired struct {
	Position Position
	Reasons  []TriggerReason
	At       time.Time
}

func (e TriggerFired) Type() EventType       { return EventTriggerFired }
func (e TriggerFired) OccurredAt() time.Time { return e.At }

// LiquidationExecuted is emitted after the executor finishes an attempt with
// at least one accepted order.
type LiquidationExecuted struct {
	Position Position
	Result   ExecutionResult
	At       time.Time
}

func (e LiquidationExecuted) Type() EventType       { return EventLiquidationExecuted }
func (e LiquidationExecuted) OccurredAt() time.Time { return e.At }

// ExecutionError is emitted when a liquidation attempt fails entirely.
type ExecutionError struct {
	Position Position
	Reason   string
	At       time.Time
}

func (e ExecutionError) Type() EventType       { return EventExecutionError }
func (e ExecutionError) OccurredAt() time.Time { return e.At }

// CycleError is emitted when a whole monitoring cycle fails; the loop
// continues with the next cycle.
type CycleError struct {
	Err string
	At  time.Time
}

func (e CycleError) Type() EventType       { return EventCycleError }
func (e CycleError) OccurredAt() time.Time { return e.At }
