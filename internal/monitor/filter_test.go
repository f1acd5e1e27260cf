package monitor

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wkoss/polystop/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPositions() []domain.Position {
	return []domain.Position{
		domain.NewPosition("a", "Market A", "Yes", 100, 0.50, 50, 60),
		domain.NewPosition("b", "Market B", "No", 20, 0.10, 2, 3),
		domain.NewPosition("dust", "Market C", "Yes", 0.1, 0.05, 0.005, 0.01),
	}
}

func TestFilter_NoneWatchesNothing(t *testing.T) {
	f := NewFilter(discardLogger())
	sel := domain.NewSelection(domain.SelectionNone, nil)

	assert.Empty(t, f.Apply(testPositions(), sel, 0))
}

func TestFilter_AllWatchesEverythingAboveMinValue(t *testing.T) {
	f := NewFilter(discardLogger())
	sel := domain.NewSelection(domain.SelectionAll, nil)

	watched := f.Apply(testPositions(), sel, 0.1)

	assert.Len(t, watched, 2)
	assert.Equal(t, "a", watched[0].TokenID)
	assert.Equal(t, "b", watched[1].TokenID)
}

func TestFilter_SelectedEmptyNeverWidensToAll(t *testing.T) {
	f := NewFilter(discardLogger())
	sel := domain.NewSelection(domain.SelectionSelected, nil)

	assert.Empty(t, f.Apply(testPositions(), sel, 0))
}

func TestFilter_SelectedWatchesOnlyListed(t *testing.T) {
	f := NewFilter(discardLogger())
	sel := domain.NewSelection(domain.SelectionSelected, []string{"b"})

	watched := f.Apply(testPositions(), sel, 0)

	assert.Len(t, watched, 1)
	assert.Equal(t, "b", watched[0].TokenID)
}

func TestFilter_MissingSelectedWarnedOnce(t *testing.T) {
	f := NewFilter(discardLogger())
	sel := domain.NewSelection(domain.SelectionSelected, []string{"gone"})

	f.Apply(testPositions(), sel, 0)
	assert.True(t, f.warned["gone"])

	// Second cycle: still warned, state unchanged.
	f.Apply(testPositions(), sel, 0)
	assert.True(t, f.warned["gone"])
}

func TestFilter_MissingWarningRearmsOnReappearance(t *testing.T) {
	f := NewFilter(discardLogger())
	sel := domain.NewSelection(domain.SelectionSelected, []string{"a"})

	// Absent: warned.
	f.Apply(nil, sel, 0)
	assert.True(t, f.warned["a"])

	// Back in the portfolio: warning re-armed.
	f.Apply(testPositions(), sel, 0)
	assert.False(t, f.warned["a"])
}
