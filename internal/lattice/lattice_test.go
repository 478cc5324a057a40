package lattice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustGrid(t *testing.T) Grid {
	t.Helper()
	g, err := New(0, 1000, 10, 0.01, -2000, 2000, 30, 4)
	require.NoError(t, err)
	return g
}

func TestNewDerivesDimensions(t *testing.T) {
	g := mustGrid(t)
	require.Equal(t, 100, g.NumTimeSteps)
	// ceil((2000 - -2000)/30) = ceil(133.33) = 134
	require.Equal(t, 134, g.NumInventorySteps)
	require.Equal(t, 4, g.NumSpreadSteps)
}

func TestInventoryIndexRoundTrip(t *testing.T) {
	g := mustGrid(t)
	for i := 0; i < g.NumInventorySteps; i++ {
		require.Equal(t, i, g.InventoryIndex(g.Inventory(i)), "index %d failed round-trip", i)
	}
}

func TestZeroInventorySitsAtMiddleIndex(t *testing.T) {
	g := mustGrid(t)
	require.Equal(t, 0.0, g.Inventory(g.InventoryIndex(0)))
}

func TestInventoryIndexOutOfRangeIsReported(t *testing.T) {
	g := mustGrid(t)
	above := g.InventoryIndex(g.Inventory(g.NumInventorySteps-1) + g.VolumeStep)
	require.False(t, g.InventoryInRange(above))
	below := g.InventoryIndex(g.Inventory(0) - g.VolumeStep)
	require.False(t, g.InventoryInRange(below))
}

func TestSpreadMapping(t *testing.T) {
	g := mustGrid(t)
	require.InDelta(t, 0.01, g.Spread(0), 1e-12)
	require.InDelta(t, 0.04, g.Spread(3), 1e-12)
	require.Equal(t, 0, g.SpreadIndex(0.01))
	require.Equal(t, 1, g.SpreadIndex(0.025)) // floors to two ticks
	require.Equal(t, 3, g.SpreadIndex(9.99)) // clamped to the widest row
	require.Equal(t, 0, g.SpreadIndex(0))    // clamped to one tick
}

func TestNewRejectsBadBounds(t *testing.T) {
	_, err := New(100, 100, 10, 0.01, -10, 10, 1, 2)
	require.Error(t, err)
	_, err = New(0, 100, 0, 0.01, -10, 10, 1, 2)
	require.Error(t, err)
	_, err = New(0, 100, 10, 0.01, 10, -10, 1, 2)
	require.Error(t, err)
	_, err = New(0, 100, 10, 0.01, -10, 10, 1, 0)
	require.Error(t, err)
}
