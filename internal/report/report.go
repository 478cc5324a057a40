// Package report writes the solver and backtest outputs as flat files into a
// per-run directory.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/errs"
	"github.com/quantfabric/mmpolicy/internal/observability"
	"github.com/quantfabric/mmpolicy/internal/policy"
	"github.com/quantfabric/mmpolicy/internal/sim"
	"github.com/quantfabric/mmpolicy/lib/async"
)

// Writer produces the flat-file outputs of one solve into a dedicated
// directory under the configured base.
type Writer struct {
	dir string
}

// NewWriter creates the run directory. An empty name gets a fresh UUID.
func NewWriter(baseDir, name string) (*Writer, error) {
	if name == "" {
		name = uuid.NewString()
	}
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.New("report", errs.CodeIO, errs.WithMessage("create run directory"), errs.WithCause(err))
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the run directory path.
func (w *Writer) Dir() string { return w.dir }

// WriteAll writes every output file, fanning the independent files out over a
// small worker pool. Backtest files are skipped when stats is empty.
func (w *Writer) WriteAll(ctx context.Context, cfg config.Settings, in policy.Inputs, sol *policy.Solution, stats []sim.Stats) error {
	if sol == nil {
		return errs.Invalid("report", "solution", "must not be nil")
	}

	tasks := []async.Task{
		func(context.Context) error { return w.writeParameters(cfg) },
		func(context.Context) error { return w.writeTransitionMatrix(in.Transition) },
		func(context.Context) error { return w.writeProxies(in) },
		func(context.Context) error { return w.writeFillProbabilities(sol) },
		func(context.Context) error { return w.writePolicyTable(sol) },
	}
	if len(stats) > 0 {
		tasks = append(tasks,
			func(context.Context) error { return w.writeRunStats(stats) },
			func(context.Context) error { return w.writeSummary(cfg, stats) },
		)
	}

	pool, err := async.NewPool(4, len(tasks))
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := pool.Submit(ctx, task); err != nil {
			_ = pool.Shutdown(context.Background())
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		return err
	}
	observability.Log().Info("report written", observability.F("dir", w.dir))
	return nil
}

func (w *Writer) writeCSV(name string, header []string, rows func(*csv.Writer) error) error {
	path := filepath.Join(w.dir, name)
	file, err := os.Create(path) // #nosec G304 -- path is derived from the operator-chosen output directory.
	if err != nil {
		return errs.New("report", errs.CodeIO, errs.WithMessage("create "+name), errs.WithCause(err))
	}
	defer func() { _ = file.Close() }()

	cw := csv.NewWriter(file)
	if err := cw.Write(header); err != nil {
		return errs.New("report", errs.CodeIO, errs.WithMessage("write "+name), errs.WithCause(err))
	}
	if err := rows(cw); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errs.New("report", errs.CodeIO, errs.WithMessage("flush "+name), errs.WithCause(err))
	}
	return nil
}

// writeParameters emits an explicit name/description/value table of the
// effective model settings.
func (w *Writer) writeParameters(cfg config.Settings) error {
	m := cfg.Model
	c := cfg.Calibration
	b := cfg.Backtest
	params := []struct {
		name, desc, value string
	}{
		{"startTime", "trading window start, seconds of day", strconv.Itoa(m.StartTime)},
		{"endTime", "trading window end, seconds of day", strconv.Itoa(m.EndTime)},
		{"timeStep", "lattice time step, seconds", ftoa(m.TimeStep)},
		{"tick", "price increment", ftoa(m.Tick)},
		{"rho", "per-share rebate", ftoa(m.Rho)},
		{"epsilon", "per-share fee", ftoa(m.Epsilon)},
		{"epsilon0", "fixed fee per market order", ftoa(m.Epsilon0)},
		{"gamma", "inventory penalty weight", ftoa(m.Gamma)},
		{"maxVolMake", "max volume per limit order", ftoa(m.MaxVolMake)},
		{"maxVolTake", "max volume per market order", ftoa(m.MaxVolTake)},
		{"lbShares", "inventory lower bound", ftoa(m.LBShares)},
		{"ubShares", "inventory upper bound", ftoa(m.UBShares)},
		{"volumeStep", "volume discretization step", ftoa(m.VolumeStep)},
		{"delay", "decision delay, time steps", strconv.Itoa(m.Delay)},
		{"volumeProxy", "typical order volume for execution proxies", ftoa(c.VolumeProxy)},
		{"lambdaBucketSec", "jump-intensity bucket width, seconds", strconv.Itoa(c.LambdaBucketSec)},
		{"maxMatrixSpread", "largest spread kept in the transition matrix", ftoa(c.MaxMatrixSpread)},
		{"runs", "Monte-Carlo runs", strconv.Itoa(b.Runs)},
		{"initialPrice", "simulated initial mid price", ftoa(b.InitialPrice)},
		{"periods", "simulated periods per run", strconv.Itoa(b.Periods)},
		{"step", "simulated period length, seconds", ftoa(b.Step)},
		{"drift", "mid-price drift", ftoa(b.Drift)},
		{"sigma", "mid-price volatility", ftoa(b.Sigma)},
		{"seed", "base random seed", strconv.FormatInt(b.Seed, 10)},
	}
	return w.writeCSV("parameters.csv", []string{"name", "description", "value"}, func(cw *csv.Writer) error {
		for _, p := range params {
			if err := cw.Write([]string{p.name, p.desc, p.value}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeTransitionMatrix(matrix [][]float64) error {
	header := make([]string, len(matrix)+1)
	header[0] = "from_ticks"
	for j := range matrix {
		header[j+1] = "to_" + strconv.Itoa(j+1)
	}
	return w.writeCSV("transition_matrix.csv", header, func(cw *csv.Writer) error {
		for i, row := range matrix {
			out := make([]string, len(row)+1)
			out[0] = strconv.Itoa(i + 1)
			for j, p := range row {
				out[j+1] = ftoa(p)
			}
			if err := cw.Write(out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeProxies(in policy.Inputs) error {
	return w.writeCSV("proxies.csv", []string{"strategy", "spread_ticks", "intensity"}, func(cw *csv.Writer) error {
		for _, style := range []policy.BidStyle{policy.BidAtBest, policy.BidImprove} {
			if err := writeProxyRows(cw, style.String(), in.ProxiesBid[style]); err != nil {
				return err
			}
		}
		for _, style := range []policy.AskStyle{policy.AskAtBest, policy.AskImprove} {
			if err := writeProxyRows(cw, style.String(), in.ProxiesAsk[style]); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeProxyRows(cw *csv.Writer, strategy string, proxies map[int]float64) error {
	states := make([]int, 0, len(proxies))
	for state := range proxies {
		states = append(states, state)
	}
	sort.Ints(states)
	for _, state := range states {
		if err := cw.Write([]string{strategy, strconv.Itoa(state), ftoa(proxies[state])}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeFillProbabilities(sol *policy.Solution) error {
	header := []string{"spread", "b", "b+", "a", "a-"}
	return w.writeCSV("fill_probabilities.csv", header, func(cw *csv.Writer) error {
		for j := 0; j < sol.Grid.NumSpreadSteps; j++ {
			row := []string{
				ftoa(sol.Grid.Spread(j)),
				ftoa(sol.FillProbBid[policy.BidAtBest][j]),
				ftoa(sol.FillProbBid[policy.BidImprove][j]),
				ftoa(sol.FillProbAsk[policy.AskAtBest][j]),
				ftoa(sol.FillProbAsk[policy.AskImprove][j]),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writePolicyTable(sol *policy.Solution) error {
	header := []string{"time", "inventory", "spread", "bid_strategy", "ask_strategy", "bid_ord_vol", "ask_ord_vol", "take_vol"}
	return w.writeCSV("policy.csv", header, func(cw *csv.Writer) error {
		grid := sol.Grid
		for t := 0; t < grid.NumTimeSteps-1; t++ {
			for i := 0; i < grid.NumInventorySteps; i++ {
				for j := 0; j < grid.NumSpreadSteps; j++ {
					row := []string{
						ftoa(grid.Time(t)),
						ftoa(grid.Inventory(i)),
						ftoa(grid.Spread(j)),
						"", "", "0", "0", "0",
					}
					switch a := sol.Actions[t][i][j].(type) {
					case policy.Make:
						row[3] = a.Bid.String()
						row[4] = a.Ask.String()
						row[5] = ftoa(a.BidVolume)
						row[6] = ftoa(a.AskVolume)
					case policy.Take:
						row[7] = ftoa(a.Volume)
					}
					if err := cw.Write(row); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (w *Writer) writeRunStats(stats []sim.Stats) error {
	header := []string{
		"run", "cash", "max_inventory", "min_inventory",
		"best_bid_orders", "improved_bid_orders", "best_ask_orders", "improved_ask_orders",
		"market_buy_orders", "market_sell_orders",
	}
	return w.writeCSV("backtest_runs.csv", header, func(cw *csv.Writer) error {
		for _, st := range stats {
			row := []string{
				strconv.Itoa(st.Run),
				ftoa(st.Cash),
				ftoa(st.MaxInventory),
				ftoa(st.MinInventory),
				strconv.Itoa(st.BestBidOrders),
				strconv.Itoa(st.ImprovedBidOrders),
				strconv.Itoa(st.BestAskOrders),
				strconv.Itoa(st.ImprovedAskOrders),
				strconv.Itoa(st.MarketBuyOrders),
				strconv.Itoa(st.MarketSellOrders),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) writeSummary(cfg config.Settings, stats []sim.Stats) error {
	doc := struct {
		GeneratedAt time.Time     `json:"generatedAt"`
		Seed        int64         `json:"seed"`
		Aggregate   sim.Aggregate `json:"aggregate"`
	}{
		GeneratedAt: time.Now().UTC(),
		Seed:        cfg.Backtest.Seed,
		Aggregate:   sim.Summarize(stats),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(w.dir, "summary.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errs.New("report", errs.CodeIO, errs.WithMessage("write summary.json"), errs.WithCause(err))
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
