// Package sim validates a solved policy by Monte-Carlo simulation: synthetic
// quote paths are generated period by period and the policy's decisions are
// executed against a position ledger.
package sim

import (
	"math"
	"math/rand"
	"sort"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/internal/policy"
)

// Quote is one simulated top-of-book observation.
type Quote struct {
	Time float64
	Bid  float64
	Ask  float64
}

// Spread returns the quoted spread.
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// pathGen produces one quote path per call. The mid price follows geometric
// Brownian motion; the spread follows a Markov chain over tick multiples whose
// jumps arrive with the calibrated Poisson intensity.
type pathGen struct {
	initialPrice float64
	periods      int
	step         float64
	drift        float64
	sigma        float64
	tick         float64

	lambdaKeys []int
	lambda     map[int]float64

	// cumulative transition rows; a nil row marks an unobserved spread state
	// and falls back to a uniform draw over all states.
	cum [][]float64
}

func newPathGen(cfg config.Backtest, tick float64, in policy.Inputs) *pathGen {
	keys := make([]int, 0, len(in.JumpIntensity))
	for k := range in.JumpIntensity {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	cum := make([][]float64, len(in.Transition))
	for j, row := range in.Transition {
		total := 0.0
		for _, p := range row {
			total += p
		}
		if total == 0 {
			continue
		}
		acc := make([]float64, len(row))
		run := 0.0
		for k, p := range row {
			run += p / total
			acc[k] = run
		}
		acc[len(acc)-1] = 1
		cum[j] = acc
	}

	return &pathGen{
		initialPrice: cfg.InitialPrice,
		periods:      cfg.Periods,
		step:         cfg.Step,
		drift:        cfg.Drift,
		sigma:        cfg.Sigma,
		tick:         tick,
		lambdaKeys:   keys,
		lambda:       in.JumpIntensity,
		cum:          cum,
	}
}

// generate draws one full path from rng. The spread starts at one tick.
func (g *pathGen) generate(rng *rand.Rand) []Quote {
	quotes := make([]Quote, 0, g.periods-1)
	spreadIdx := 0
	for k := 1; k < g.periods; k++ {
		elapsed := float64(k) * g.step
		noise := rng.NormFloat64() * float64(k)
		mid := g.initialPrice * math.Exp((g.drift-g.sigma*g.sigma/2)*elapsed+g.sigma*noise)

		p := 1 - math.Exp(-g.intensityAt(elapsed)*g.step)
		if rng.Float64() <= p {
			spreadIdx = g.nextSpread(rng, spreadIdx)
		}

		spread := float64(spreadIdx+1) * g.tick
		quotes = append(quotes, Quote{Time: elapsed, Bid: mid - spread/2, Ask: mid + spread/2})
	}
	return quotes
}

// intensityAt returns the jump intensity for the bucket covering the elapsed
// time, clamped to the first bucket.
func (g *pathGen) intensityAt(elapsed float64) float64 {
	if len(g.lambdaKeys) == 0 {
		return 0
	}
	i := sort.Search(len(g.lambdaKeys), func(n int) bool {
		return float64(g.lambdaKeys[n]) > elapsed
	}) - 1
	if i < 0 {
		i = 0
	}
	return g.lambda[g.lambdaKeys[i]]
}

// nextSpread samples the successor spread state.
func (g *pathGen) nextSpread(rng *rand.Rand, j int) int {
	row := g.cum[j]
	if row == nil {
		return rng.Intn(len(g.cum))
	}
	u := rng.Float64()
	for k, c := range row {
		if u <= c {
			return k
		}
	}
	return len(row) - 1
}
