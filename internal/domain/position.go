package domain

import "fmt"

// Position is a portfolio position as reported by the Polymarket Data API.
// Positions are value objects: the whole set is refreshed each monitoring
// cycle and a position has no identity across cycles beyond its TokenID.
type Position struct {
	TokenID      string
	MarketName   string
	Outcome      string
	Size         float64 // units held
	CurrentPrice float64
	CurrentValue float64
	InitialValue float64
	PnL          float64 // CurrentValue - InitialValue
	PnLPercent   float64 // PnL / InitialValue * 100, 0 when InitialValue <= 0
}

// NewPosition constructs a Position and derives its P&L fields.
func NewPosition(tokenID, marketName, outcome string, size, currentPrice, currentValue, initialValue float64) Position {
	p := Position{
		TokenID:      tokenID,
		MarketName:   marketName,
		Outcome:      outcome,
		Size:         size,
		CurrentPrice: currentPrice,
		CurrentValue: currentValue,
		InitialValue: initialValue,
	}
	p.PnL = currentValue - initialValue
	if initialValue > 0 {
		p.PnLPercent = p.PnL / initialValue * 100
	}
	return p
}

// DisplayID returns a short human-readable identifier for log lines and
// notifications.
func (p Position) DisplayID() string {
	name := p.MarketName
	if len(name) > 30 {
		name = name[:30] + "..."
	}
	return fmt.Sprintf("%s (%s)", name, p.Outcome)
}
