package sim

import (
	"context"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/errs"
	"github.com/quantfabric/mmpolicy/internal/ledger"
	"github.com/quantfabric/mmpolicy/internal/observability"
	"github.com/quantfabric/mmpolicy/internal/policy"
	"github.com/quantfabric/mmpolicy/internal/telemetry"
)

// Stats summarizes one Monte-Carlo run.
type Stats struct {
	Run               int     `json:"run"`
	Cash              float64 `json:"cash"`
	MaxInventory      float64 `json:"maxInventory"`
	MinInventory      float64 `json:"minInventory"`
	BestBidOrders     int     `json:"bestBidOrders"`
	ImprovedBidOrders int     `json:"improvedBidOrders"`
	BestAskOrders     int     `json:"bestAskOrders"`
	ImprovedAskOrders int     `json:"improvedAskOrders"`
	MarketBuyOrders   int     `json:"marketBuyOrders"`
	MarketSellOrders  int     `json:"marketSellOrders"`
}

// Simulator executes a solved policy over synthetic quote paths.
//
// Each run owns a rand.Rand seeded with the base seed plus the run index, so
// a given configuration reproduces bit-identical paths and executions no
// matter how many runs execute concurrently.
type Simulator struct {
	table   *policy.Table
	cfg     config.Backtest
	tick    float64
	gen     *pathGen
	bid     map[policy.BidStyle]intensityTable
	ask     map[policy.AskStyle]intensityTable
	metrics *telemetry.Metrics
}

// Option configures optional simulator behaviour.
type Option func(*Simulator)

// WithMetrics attaches telemetry instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Simulator) { s.metrics = m }
}

// New builds a simulator for the given policy table and calibrated inputs.
func New(table *policy.Table, cfg config.Backtest, tick float64, in policy.Inputs, opts ...Option) (*Simulator, error) {
	if table == nil {
		return nil, errs.Invalid("sim", "table", "policy table must not be nil")
	}
	if cfg.Runs <= 0 {
		return nil, errs.Invalid("sim", "runs", "must be positive")
	}
	if cfg.Periods < 2 {
		return nil, errs.Invalid("sim", "periods", "must be at least 2")
	}
	if tick <= 0 {
		return nil, errs.Invalid("sim", "tick", "must be positive")
	}
	s := &Simulator{
		table: table,
		cfg:   cfg,
		tick:  tick,
		gen:   newPathGen(cfg, tick, in),
		bid: map[policy.BidStyle]intensityTable{
			policy.BidAtBest:  newIntensityTable(in.ProxiesBid[policy.BidAtBest]),
			policy.BidImprove: newIntensityTable(in.ProxiesBid[policy.BidImprove]),
		},
		ask: map[policy.AskStyle]intensityTable{
			policy.AskAtBest:  newIntensityTable(in.ProxiesAsk[policy.AskAtBest]),
			policy.AskImprove: newIntensityTable(in.ProxiesAsk[policy.AskImprove]),
		},
		metrics: nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run executes all configured runs and returns their per-run statistics in
// run order.
func (s *Simulator) Run(ctx context.Context) ([]Stats, error) {
	start := time.Now()
	workers := s.cfg.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Stats, s.cfg.Runs)
	p := pool.New().WithMaxGoroutines(workers).WithErrors()
	for i := 0; i < s.cfg.Runs; i++ {
		run := i
		p.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errs.New("sim", errs.CodeUnavailable, errs.WithMessage("backtest cancelled"), errs.WithCause(err))
			}
			rng := rand.New(rand.NewSource(s.cfg.Seed + int64(run))) // #nosec G404 -- simulation noise, not security material.
			st, err := s.runOne(rng, run)
			if err != nil {
				return err
			}
			results[run] = st
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		s.metrics.RecordRuns(ctx, int64(s.cfg.Runs), time.Since(start).Seconds(), "error")
		return nil, err
	}
	s.metrics.RecordRuns(ctx, int64(s.cfg.Runs), time.Since(start).Seconds(), "ok")
	observability.Log().Info("backtest finished",
		observability.F("runs", s.cfg.Runs),
		observability.F("elapsed", time.Since(start).String()))
	return results, nil
}

func (s *Simulator) runOne(rng *rand.Rand, run int) (Stats, error) {
	book := ledger.New()
	st := Stats{Run: run}

	for _, q := range s.gen.generate(rng) {
		spread := q.Spread()
		action := s.table.Lookup(q.Time, book.Inventory(), spread)

		switch a := action.(type) {
		case policy.Make:
			// At a one-tick spread there is no room to improve: the improving
			// side is suppressed and its volume crosses the book instead.
			oneTick := spread < 1.5*s.tick
			makeBid := !(a.Bid == policy.BidImprove && oneTick)
			makeAsk := !(a.Ask == policy.AskImprove && oneTick)

			if makeBid && a.BidVolume > 0 {
				if a.Bid == policy.BidImprove {
					st.ImprovedBidOrders++
				} else {
					st.BestBidOrders++
				}
				pFill := fillProb(s.bid[a.Bid].at(spread, s.tick), s.cfg.Step)
				if rng.Float64() < pFill {
					if err := book.Buy(q.Bid, a.BidVolume); err != nil {
						return Stats{}, err
					}
				}
			}
			if makeAsk && a.AskVolume > 0 {
				if a.Ask == policy.AskImprove {
					st.ImprovedAskOrders++
				} else {
					st.BestAskOrders++
				}
				pFill := fillProb(s.ask[a.Ask].at(spread, s.tick), s.cfg.Step)
				if rng.Float64() < pFill {
					if err := book.Sell(q.Ask, a.AskVolume); err != nil {
						return Stats{}, err
					}
				}
			}
			if !makeBid && a.BidVolume > 0 {
				st.MarketBuyOrders++
				if err := book.Buy(q.Ask, a.BidVolume); err != nil {
					return Stats{}, err
				}
			}
			if !makeAsk && a.AskVolume > 0 {
				st.MarketSellOrders++
				if err := book.Sell(q.Bid, a.AskVolume); err != nil {
					return Stats{}, err
				}
			}
		case policy.Take:
			if a.Volume > 0 {
				st.MarketBuyOrders++
				if err := book.Buy(q.Ask, a.Volume); err != nil {
					return Stats{}, err
				}
			} else if a.Volume < 0 {
				st.MarketSellOrders++
				if err := book.Sell(q.Bid, -a.Volume); err != nil {
					return Stats{}, err
				}
			}
		}

		inv := book.Inventory()
		if inv > st.MaxInventory {
			st.MaxInventory = inv
		}
		if inv < st.MinInventory {
			st.MinInventory = inv
		}
	}

	st.Cash = book.Cash()
	return st, nil
}

func fillProb(intensity, step float64) float64 {
	return policy.FillProbability(intensity, step)
}

// intensityTable resolves an execution intensity from a spread by floor
// matching on the calibrated tick multiples, clamping below the smallest.
type intensityTable struct {
	keys []int
	vals map[int]float64
}

func newIntensityTable(proxies map[int]float64) intensityTable {
	keys := make([]int, 0, len(proxies))
	for k := range proxies {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return intensityTable{keys: keys, vals: proxies}
}

func (t intensityTable) at(spread, tick float64) float64 {
	if len(t.keys) == 0 {
		return 0
	}
	multiple := int(spread / tick)
	i := sort.SearchInts(t.keys, multiple+1) - 1
	if i < 0 {
		i = 0
	}
	return t.vals[t.keys[i]]
}
