package monitor

import (
	"log/slog"

	"github.com/wkoss/polystop/internal/domain"
)

// Filter narrows the fetched position set to the monitored one. It keeps
// per-token warning state so a selected token that is missing from the
// portfolio is warned about once, not every cycle.
type Filter struct {
	logger *slog.Logger
	warned map[string]bool
}

// NewFilter creates a Filter.
func NewFilter(logger *slog.Logger) *Filter {
	return &Filter{
		logger: logger.With(slog.String("component", "selection_filter")),
		warned: make(map[string]bool),
	}
}

// Apply returns the positions under watch for the given selection.
//
// SelectionNone watches nothing. SelectionSelected with an empty set is
// equivalent to None; it never widens to the whole portfolio. Positions
// below minValue are skipped in every mode.
func (f *Filter) Apply(positions []domain.Position, sel domain.Selection, minValue float64) []domain.Position {
	if sel.Mode == domain.SelectionNone {
		return nil
	}
	if sel.Mode == domain.SelectionSelected && len(sel.TokenIDs) == 0 {
		return nil
	}

	watched := make([]domain.Position, 0, len(positions))
	present := make(map[string]bool, len(positions))

	for _, pos := range positions {
		present[pos.TokenID] = true

		if sel.Mode == domain.SelectionSelected && !sel.TokenIDs[pos.TokenID] {
			continue
		}
		if pos.CurrentValue < minValue {
			continue
		}

		// Seen again, re-arm the missing warning.
		delete(f.warned, pos.TokenID)
		watched = append(watched, pos)
	}

	if sel.Mode == domain.SelectionSelected {
		for id := range sel.TokenIDs {
			if !present[id] && !f.warned[id] {
				f.warned[id] = true
				f.logger.Warn("selected token not in portfolio",
					slog.String("token_id", id))
			}
		}
	}

	return watched
}
