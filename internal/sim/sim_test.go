package sim

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/internal/lattice"
	"github.com/quantfabric/mmpolicy/internal/policy"
)

func testBacktest() config.Backtest {
	return config.Backtest{
		Enabled:      true,
		Runs:         4,
		InitialPrice: 100,
		Periods:      200,
		Step:         1,
		Drift:        0.00001,
		Sigma:        0.000005,
		Seed:         29756,
		Parallelism:  0,
	}
}

func frozenInputs(numSpread int, jumpIntensity, fillIntensity float64) policy.Inputs {
	matrix := make([][]float64, numSpread)
	for j := range matrix {
		row := make([]float64, numSpread)
		row[j] = 1
		matrix[j] = row
	}
	proxy := func() map[int]float64 {
		m := make(map[int]float64, numSpread)
		for j := 0; j < numSpread; j++ {
			m[j+1] = fillIntensity
		}
		return m
	}
	return policy.Inputs{
		Transition:    matrix,
		JumpIntensity: map[int]float64{0: jumpIntensity},
		ProxiesBid:    map[policy.BidStyle]map[int]float64{policy.BidAtBest: proxy(), policy.BidImprove: proxy()},
		ProxiesAsk:    map[policy.AskStyle]map[int]float64{policy.AskAtBest: proxy(), policy.AskImprove: proxy()},
	}
}

// constantTable builds a policy table that returns the same action in every
// state.
func constantTable(t *testing.T, numSpread int, act policy.Action) *policy.Table {
	t.Helper()
	g, err := lattice.New(0, 1000, 5, 0.01, -500, 500, 10, numSpread)
	require.NoError(t, err)

	actions := make([][][]policy.Action, g.NumTimeSteps)
	for ti := range actions {
		actions[ti] = make([][]policy.Action, g.NumInventorySteps)
		for i := range actions[ti] {
			cells := make([]policy.Action, g.NumSpreadSteps)
			for j := range cells {
				cells[j] = act
			}
			actions[ti][i] = cells
		}
	}
	return policy.NewTable(&policy.Solution{
		Grid:        g,
		Value:       nil,
		Actions:     actions,
		FillProbBid: nil,
		FillProbAsk: nil,
	})
}

func TestPathGenerationIsSeedDeterministic(t *testing.T) {
	cfg := testBacktest()
	gen := newPathGen(cfg, 0.01, frozenInputs(3, 0.5, 0.1))

	a := gen.generate(rand.New(rand.NewSource(7)))
	b := gen.generate(rand.New(rand.NewSource(7)))
	require.Equal(t, a, b)

	c := gen.generate(rand.New(rand.NewSource(8)))
	require.NotEqual(t, a, c)
}

func TestRunsReproduceAcrossParallelism(t *testing.T) {
	table := constantTable(t, 3, policy.Make{
		Bid: policy.BidAtBest, BidVolume: 10,
		Ask: policy.AskAtBest, AskVolume: 10,
	})
	in := frozenInputs(3, 0.5, 0.2)

	cfg := testBacktest()
	cfg.Parallelism = 1
	serial, err := New(table, cfg, 0.01, in)
	require.NoError(t, err)
	got1, err := serial.Run(context.Background())
	require.NoError(t, err)

	cfg.Parallelism = 8
	parallel, err := New(table, cfg, 0.01, in)
	require.NoError(t, err)
	got8, err := parallel.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, got1, got8)
}

func TestFillRateMatchesIntensity(t *testing.T) {
	const intensity = 0.2
	table := constantTable(t, 2, policy.Make{
		Bid: policy.BidAtBest, BidVolume: 10,
		Ask: policy.AskAtBest, AskVolume: 0,
	})
	// Frozen one-tick spread, zero drift and volatility: the only source of
	// randomness left is the fill draw.
	in := frozenInputs(2, 0, intensity)

	cfg := testBacktest()
	cfg.Runs = 1
	cfg.Periods = 100001
	cfg.Drift = 0
	cfg.Sigma = 0

	s, err := New(table, cfg, 0.01, in)
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)

	fills := stats[0].MaxInventory / 10
	rate := fills / float64(cfg.Periods-1)
	want := 1 - math.Exp(-intensity*cfg.Step)
	require.InDelta(t, want, rate, 0.01)
	require.Equal(t, cfg.Periods-1, stats[0].BestBidOrders)
}

func TestOneTickSpreadRedirectsImproveToMarket(t *testing.T) {
	table := constantTable(t, 2, policy.Make{
		Bid: policy.BidImprove, BidVolume: 10,
		Ask: policy.AskAtBest, AskVolume: 0,
	})
	in := frozenInputs(2, 0, 0.1)

	cfg := testBacktest()
	cfg.Runs = 1
	cfg.Periods = 50
	cfg.Drift = 0
	cfg.Sigma = 0

	s, err := New(table, cfg, 0.01, in)
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	// Every period the improving bid is suppressed and crosses the book.
	require.Equal(t, cfg.Periods-1, stats[0].MarketBuyOrders)
	require.Equal(t, 0, stats[0].ImprovedBidOrders)
	require.InDelta(t, 10*float64(cfg.Periods-1), stats[0].MaxInventory, 1e-9)
}

func TestTakeExecutesMarketOrders(t *testing.T) {
	table := constantTable(t, 2, policy.Take{Volume: -10})
	in := frozenInputs(2, 0, 0)

	cfg := testBacktest()
	cfg.Runs = 1
	cfg.Periods = 20

	s, err := New(table, cfg, 0.01, in)
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, cfg.Periods-1, stats[0].MarketSellOrders)
	require.InDelta(t, -10*float64(cfg.Periods-1), stats[0].MinInventory, 1e-9)
}

func TestUnobservedSpreadRowFallsBackToUniform(t *testing.T) {
	in := frozenInputs(2, 1000, 0)
	in.Transition = [][]float64{{0, 0}, {1, 0}}

	gen := newPathGen(testBacktest(), 0.01, in)
	rng := rand.New(rand.NewSource(1))

	seen := map[float64]bool{}
	for _, q := range gen.generate(rng) {
		seen[math.Round(q.Spread()/0.01)] = true
	}
	require.True(t, seen[1], "one-tick spread never visited")
	require.True(t, seen[2], "two-tick spread never visited")
}

func TestSummarizePopulationMoments(t *testing.T) {
	stats := []Stats{
		{Run: 0, Cash: 1, MaxInventory: 10, MinInventory: -2, MarketBuyOrders: 3},
		{Run: 1, Cash: 3, MaxInventory: 20, MinInventory: -4, MarketBuyOrders: 5},
	}
	agg := Summarize(stats)
	require.Equal(t, 2, agg.Runs)
	require.Equal(t, 2.0, agg.CashMean)
	require.Equal(t, 1.0, agg.CashStdDev)
	require.Equal(t, 15.0, agg.MaxInventoryMean)
	require.Equal(t, -3.0, agg.MinInventoryMean)
	require.Equal(t, 8, agg.MarketBuyOrders)

	empty := Summarize(nil)
	require.Equal(t, 0, empty.Runs)
	require.Equal(t, 0.0, empty.CashMean)
}
