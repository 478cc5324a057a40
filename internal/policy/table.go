package policy

import (
	"github.com/quantfabric/mmpolicy/internal/lattice"
)

// Table exposes a solved policy for state lookup during simulation.
type Table struct {
	grid    lattice.Grid
	actions [][][]Action
}

// NewTable wraps a solved decision grid.
func NewTable(sol *Solution) *Table {
	return &Table{grid: sol.Grid, actions: sol.Actions}
}

// Grid returns the lattice the table was solved on.
func (t *Table) Grid() lattice.Grid { return t.grid }

// Lookup returns the action for the grid cell at or below the given
// continuous state. States below the smallest grid point clamp to it, so a
// lookup always resolves to a decision.
func (t *Table) Lookup(elapsed, inventory, spread float64) Action {
	grid := t.grid

	ti := int(elapsed / grid.TimeStep)
	if ti < 0 {
		ti = 0
	}
	if ti >= grid.NumTimeSteps {
		ti = grid.NumTimeSteps - 1
	}

	ii := grid.InventoryIndex(inventory)
	if ii < 0 {
		ii = 0
	}
	if ii >= grid.NumInventorySteps {
		ii = grid.NumInventorySteps - 1
	}

	return t.actions[ti][ii][grid.SpreadIndex(spread)]
}
