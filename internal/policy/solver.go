package policy

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/errs"
	"github.com/quantfabric/mmpolicy/internal/lattice"
	"github.com/quantfabric/mmpolicy/internal/observability"
	"github.com/quantfabric/mmpolicy/internal/telemetry"
)

// negInf marks infeasible inventory transitions. The most negative
// representable value keeps sums finite, unlike math.Inf which would turn
// zero-probability products into NaN.
const negInf = -math.MaxFloat64

// PenaltyFunc scores signed inventory. It must be non-negative and convex.
type PenaltyFunc func(inventory float64) float64

// QuadraticPenalty is the default inventory penalty.
func QuadraticPenalty(inventory float64) float64 { return inventory * inventory }

type solverConfig struct {
	missingIntensity float64
	parallelism      int
	metrics          *telemetry.Metrics
}

// Option configures optional solver behaviour.
type Option func(*solverConfig)

// WithMissingIntensity sets the fill intensity assumed for (style, spread)
// pairs absent from the calibrated proxies. The default of zero encodes
// "no observed behaviour means no fills".
func WithMissingIntensity(v float64) Option {
	return func(cfg *solverConfig) { cfg.missingIntensity = v }
}

// WithParallelism caps the number of goroutines evaluating one time slice.
func WithParallelism(n int) Option {
	return func(cfg *solverConfig) { cfg.parallelism = n }
}

// WithMetrics attaches telemetry instruments to the solve.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(cfg *solverConfig) { cfg.metrics = m }
}

// Solution carries the fully populated value-function and decision grids,
// plus the fill probabilities derived from the execution proxies.
type Solution struct {
	Grid    lattice.Grid
	Value   [][][]float64
	Actions [][][]Action

	// Fill probability over one decision window, indexed by spread index.
	FillProbBid map[BidStyle][]float64
	FillProbAsk map[AskStyle][]float64
}

// Solver runs the backward-induction recursion over the state lattice.
type Solver struct {
	grid    lattice.Grid
	model   config.Model
	penalty PenaltyFunc
	cfg     solverConfig

	numVolMakeSteps int
	numVolTakeSteps int

	// transition matrix pre-scaled by delay*timeStep
	scaled [][]float64

	fillProbBid map[BidStyle][]float64
	fillProbAsk map[AskStyle][]float64
}

// NewSolver validates the inputs and precomputes the per-window fill
// probabilities and the scaled transition matrix.
func NewSolver(grid lattice.Grid, model config.Model, in Inputs, penalty PenaltyFunc, opts ...Option) (*Solver, error) {
	cfg := solverConfig{missingIntensity: 0, parallelism: 0, metrics: nil}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if penalty == nil {
		return nil, errs.Invalid("policy/solver", "penalty", "penalty function must not be nil")
	}
	if len(in.Transition) != grid.NumSpreadSteps {
		return nil, errs.Invalid("policy/solver", "transition", "matrix row count must match the spread grid")
	}
	if grid.NumTimeSteps < 2 {
		return nil, errs.Invalid("policy/solver", "numTimeSteps", "need at least two time steps")
	}
	if err := checkPenalty(grid, penalty); err != nil {
		return nil, err
	}

	s := &Solver{
		grid:            grid,
		model:           model,
		penalty:         penalty,
		cfg:             cfg,
		numVolMakeSteps: int(math.Ceil(model.MaxVolMake / grid.VolumeStep)),
		numVolTakeSteps: int(math.Ceil(model.MaxVolTake / grid.VolumeStep)),
		scaled:          nil,
		fillProbBid:     nil,
		fillProbAsk:     nil,
	}

	window := float64(model.Delay) * grid.TimeStep
	s.scaled = make([][]float64, grid.NumSpreadSteps)
	for j := range in.Transition {
		if len(in.Transition[j]) != grid.NumSpreadSteps {
			return nil, errs.Invalid("policy/solver", "transition", "matrix must be square")
		}
		row := make([]float64, grid.NumSpreadSteps)
		for k, p := range in.Transition[j] {
			row[k] = p * window
		}
		s.scaled[j] = row
	}

	s.fillProbBid = map[BidStyle][]float64{
		BidAtBest:  fillProbs(in.ProxiesBid[BidAtBest], grid.NumSpreadSteps, window, cfg.missingIntensity),
		BidImprove: fillProbs(in.ProxiesBid[BidImprove], grid.NumSpreadSteps, window, cfg.missingIntensity),
	}
	s.fillProbAsk = map[AskStyle][]float64{
		AskAtBest:  fillProbs(in.ProxiesAsk[AskAtBest], grid.NumSpreadSteps, window, cfg.missingIntensity),
		AskImprove: fillProbs(in.ProxiesAsk[AskImprove], grid.NumSpreadSteps, window, cfg.missingIntensity),
	}
	return s, nil
}

// fillProbs converts Poisson intensities into fill probabilities over one
// decision window. Index j addresses the spread (j+1)*tick.
func fillProbs(intensities map[int]float64, numSpread int, window, missing float64) []float64 {
	probs := make([]float64, numSpread)
	for j := 0; j < numSpread; j++ {
		intensity, ok := intensities[j+1]
		if !ok {
			intensity = missing
		}
		probs[j] = FillProbability(intensity, window)
	}
	return probs
}

// FillProbability returns 1-exp(-intensity*window), the chance that a Poisson
// arrival with the given intensity is observed within the window.
func FillProbability(intensity, window float64) float64 {
	if intensity <= 0 || window <= 0 {
		return 0
	}
	return 1 - math.Exp(-intensity*window)
}

// checkPenalty samples the penalty on every inventory grid point and rejects
// negative or non-convex shapes before they poison the recursion.
func checkPenalty(grid lattice.Grid, penalty PenaltyFunc) error {
	prev := math.NaN()
	prevPrev := math.NaN()
	for i := 0; i < grid.NumInventorySteps; i++ {
		v := penalty(grid.Inventory(i))
		if v < 0 || math.IsNaN(v) {
			return errs.Invalid("policy/solver", "penalty", "must be non-negative on the inventory grid")
		}
		if i >= 2 && prev > (prevPrev+v)/2+1e-9 {
			return errs.Invalid("policy/solver", "penalty", "must be convex on the inventory grid")
		}
		prevPrev, prev = prev, v
	}
	return nil
}

// Solve fills the value-function and decision grids by backward induction.
// Cells within one time slice are evaluated concurrently; slices are strictly
// ordered because every cell reads only the following slice.
func (s *Solver) Solve(ctx context.Context) (*Solution, error) {
	start := time.Now()
	grid := s.grid
	value := make([][][]float64, grid.NumTimeSteps)
	actions := make([][][]Action, grid.NumTimeSteps)
	for t := range value {
		value[t] = make([][]float64, grid.NumInventorySteps)
		actions[t] = make([][]Action, grid.NumInventorySteps)
		for i := range value[t] {
			value[t][i] = make([]float64, grid.NumSpreadSteps)
			actions[t][i] = make([]Action, grid.NumSpreadSteps)
		}
	}

	// Terminal slice: liquidate the open inventory at half the spread.
	last := grid.NumTimeSteps - 1
	for i := 0; i < grid.NumInventorySteps; i++ {
		liq := math.Abs(grid.Inventory(i))
		for j := 0; j < grid.NumSpreadSteps; j++ {
			value[last][i][j] = -liq*grid.Spread(j)/2 - s.model.Epsilon0
		}
	}

	workers := s.cfg.parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	for t := last - 1; t >= 0; t-- {
		if err := ctx.Err(); err != nil {
			return nil, errs.New("policy/solver", errs.CodeUnavailable, errs.WithMessage("solve cancelled"), errs.WithCause(err))
		}
		p := pool.New().WithMaxGoroutines(workers)
		for i := 0; i < grid.NumInventorySteps; i++ {
			row := i
			p.Go(func() {
				for j := 0; j < grid.NumSpreadSteps; j++ {
					v, act := s.evaluate(value[t+1], row, j)
					value[t][row][j] = v
					actions[t][row][j] = act
				}
			})
		}
		p.Wait()
		if t%512 == 0 {
			observability.Log().Debug("solver slice done",
				observability.F("t", t),
				observability.F("remaining", t))
		}
	}

	cells := int64(grid.NumTimeSteps-1) * int64(grid.NumInventorySteps) * int64(grid.NumSpreadSteps)
	s.cfg.metrics.RecordSolve(ctx, cells, time.Since(start).Seconds())
	observability.Log().Info("solve finished",
		observability.F("cells", cells),
		observability.F("elapsed", time.Since(start).String()))

	return &Solution{
		Grid:        grid,
		Value:       value,
		Actions:     actions,
		FillProbBid: s.fillProbBid,
		FillProbAsk: s.fillProbAsk,
	}, nil
}

// evaluate compares the best quoting action with the best market order for
// one cell and returns the winning value and action. Ties go to the market
// order.
func (s *Solver) evaluate(next [][]float64, i, j int) (float64, Action) {
	makeVal, bidStyle, bidVol, askStyle, askVol := s.makeBranch(next, i, j)
	takeVal, takeVol := s.takeBranch(next, i, j)

	if takeVal >= makeVal {
		return takeVal, Take{Volume: takeVol}
	}
	return makeVal, Make{Bid: bidStyle, BidVolume: bidVol, Ask: askStyle, AskVolume: askVol}
}

// makeBranch evaluates the two-sided quoting action: the equally weighted
// average of the continuation value, the spread-jump expectation, and the
// best bid- and ask-side contributions, net of the inventory penalty.
func (s *Solver) makeBranch(next [][]float64, i, j int) (val float64, bidStyle BidStyle, bidVol float64, askStyle AskStyle, askVol float64) {
	supBid, bidStyle, bidVol := s.bestBid(next, i, j)
	supAsk, askStyle, askVol := s.bestAsk(next, i, j)

	exp := 0.0
	for k := 0; k < s.grid.NumSpreadSteps; k++ {
		exp += s.scaled[j][k] * next[i][k]
	}

	val = 0.25 * (next[i][j] + exp + supBid + supAsk -
		s.grid.TimeStep*s.model.Gamma*s.penalty(s.grid.Inventory(i)))
	return val, bidStyle, bidVol, askStyle, askVol
}

// bestBid sweeps bid volumes and styles. Posting at the best bid captures the
// half spread; improving by a tick captures one tick less but fills faster.
// Volumes that would push inventory above the upper bound are penalized with
// the infeasibility sentinel, never clamped.
func (s *Solver) bestBid(next [][]float64, i, j int) (float64, BidStyle, float64) {
	grid := s.grid
	halfSpread := float64(j) * grid.Tick / 2
	inv := grid.Inventory(i)

	best := negInf
	bestStyle := BidAtBest
	bestVol := 0.0
	for step := 0; step < s.numVolMakeSteps; step++ {
		vol := float64(step) * grid.VolumeStep
		idx := grid.InventoryIndex(inv + vol)
		for _, style := range [...]BidStyle{BidAtBest, BidImprove} {
			payoff := halfSpread
			if style == BidImprove {
				payoff -= grid.Tick
			}
			p := s.fillProbBid[style][j]
			cur := payoff * vol * p
			if idx > grid.NumInventorySteps-1 {
				cur += negInf
			} else {
				cur += next[idx][j] * p
			}
			if cur > best {
				best = cur
				bestStyle = style
				bestVol = vol
			}
		}
	}
	return best, bestStyle, bestVol
}

// bestAsk mirrors bestBid on the sell side. Volumes start at one step so the
// zero-volume case cannot shadow the bid loop's no-op.
func (s *Solver) bestAsk(next [][]float64, i, j int) (float64, AskStyle, float64) {
	grid := s.grid
	halfSpread := float64(j) * grid.Tick / 2
	inv := grid.Inventory(i)

	best := negInf
	bestStyle := AskAtBest
	bestVol := 0.0
	for step := 1; step < s.numVolMakeSteps; step++ {
		vol := float64(step) * grid.VolumeStep
		idx := grid.InventoryIndex(inv - vol)
		for _, style := range [...]AskStyle{AskAtBest, AskImprove} {
			payoff := halfSpread
			if style == AskImprove {
				payoff -= grid.Tick
			}
			p := s.fillProbAsk[style][j]
			cur := payoff * vol * p
			if idx < 0 {
				cur += negInf
			} else {
				cur += next[idx][j] * p
			}
			if cur > best {
				best = cur
				bestStyle = style
				bestVol = vol
			}
		}
	}
	return best, bestStyle, bestVol
}

// takeBranch sweeps signed market-order volumes, paying the half spread plus
// the fixed fee on execution.
func (s *Solver) takeBranch(next [][]float64, i, j int) (float64, float64) {
	grid := s.grid
	halfSpread := float64(j) * grid.Tick / 2
	inv := grid.Inventory(i)

	best := negInf
	bestVol := 0.0
	for step := -s.numVolTakeSteps; step <= s.numVolTakeSteps; step++ {
		vol := float64(step) * grid.VolumeStep
		idx := grid.InventoryIndex(inv + vol)
		var cur float64
		if !grid.InventoryInRange(idx) {
			cur = negInf
		} else {
			cur = -halfSpread*math.Abs(vol) - s.model.Epsilon0 + next[idx][j]
		}
		if cur > best {
			best = cur
			bestVol = vol
		}
	}
	return best, bestVol
}
