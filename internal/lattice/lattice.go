// Package lattice defines the discretized state space shared by the policy
// solver and the backtest simulator: time, inventory, and spread are mapped
// to integer grid indices with exact round-trip conversions.
package lattice

import (
	"math"
	"strconv"

	"github.com/quantfabric/mmpolicy/errs"
)

// Grid captures the three independent discretizations of the model state.
//
// Time indices run 0..NumTimeSteps-1 over [startTime, endTime) in steps of
// TimeStep seconds. Inventory indices run 0..NumInventorySteps-1 with the
// middle index representing zero inventory. Spread index j represents the
// spread value (j+1)*Tick.
type Grid struct {
	NumTimeSteps      int
	NumInventorySteps int
	NumSpreadSteps    int

	TimeStep   float64
	VolumeStep float64
	Tick       float64

	startTime   float64
	minInvIndex int
}

// New validates the bounds and derives the grid dimensions.
// numSpreadSteps comes from the calibrated transition matrix row count.
func New(startTime, endTime int, timeStep, tick, lbShares, ubShares, volumeStep float64, numSpreadSteps int) (Grid, error) {
	if endTime <= startTime {
		return Grid{}, errs.Invalid("lattice", "endTime", "must be greater than startTime")
	}
	if timeStep <= 0 {
		return Grid{}, errs.Invalid("lattice", "timeStep", "must be positive")
	}
	if tick <= 0 {
		return Grid{}, errs.Invalid("lattice", "tick", "must be positive")
	}
	if volumeStep <= 0 {
		return Grid{}, errs.Invalid("lattice", "volumeStep", "must be positive")
	}
	if ubShares <= lbShares {
		return Grid{}, errs.Invalid("lattice", "ubShares", "must be greater than lbShares")
	}
	if numSpreadSteps <= 0 {
		return Grid{}, errs.New("lattice", errs.CodeInvalid,
			errs.WithField("numSpreadSteps"),
			errs.WithMessage("transition matrix must have at least one row"),
			errs.WithValue(strconv.Itoa(numSpreadSteps)))
	}

	numInv := int(math.Ceil((ubShares - lbShares) / volumeStep))
	return Grid{
		NumTimeSteps:      int(float64(endTime-startTime) / timeStep),
		NumInventorySteps: numInv,
		NumSpreadSteps:    numSpreadSteps,
		TimeStep:          timeStep,
		VolumeStep:        volumeStep,
		Tick:              tick,
		startTime:         float64(startTime),
		minInvIndex:       numInv / 2,
	}, nil
}

// Time returns the elapsed seconds represented by time index t.
func (g Grid) Time(t int) float64 { return float64(t) * g.TimeStep }

// Inventory returns the signed share volume represented by inventory index i.
func (g Grid) Inventory(i int) float64 {
	return float64(i-g.minInvIndex) * g.VolumeStep
}

// InventoryIndex returns the inventory index representing the signed volume v.
// The result may fall outside [0, NumInventorySteps): callers treat such
// indices as infeasible transitions, never as values to clamp.
func (g Grid) InventoryIndex(v float64) int {
	return int(math.Floor(v/g.VolumeStep)) + g.minInvIndex
}

// InventoryInRange reports whether index i addresses a valid inventory cell.
func (g Grid) InventoryInRange(i int) bool {
	return i >= 0 && i < g.NumInventorySteps
}

// Spread returns the spread value represented by spread index j.
func (g Grid) Spread(j int) float64 { return float64(j+1) * g.Tick }

// SpreadIndex returns the spread index whose value is nearest at or below s,
// clamped to the grid. The smallest representable spread is one tick.
func (g Grid) SpreadIndex(s float64) int {
	j := int(math.Floor(s/g.Tick)) - 1
	if j < 0 {
		j = 0
	}
	if j >= g.NumSpreadSteps {
		j = g.NumSpreadSteps - 1
	}
	return j
}
