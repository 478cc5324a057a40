// Command mmpolicy calibrates the quoting model from level-1 data, solves the
// optimal policy and optionally validates it with a Monte-Carlo backtest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/internal/calibration"
	"github.com/quantfabric/mmpolicy/internal/lattice"
	"github.com/quantfabric/mmpolicy/internal/observability"
	"github.com/quantfabric/mmpolicy/internal/policy"
	"github.com/quantfabric/mmpolicy/internal/report"
	"github.com/quantfabric/mmpolicy/internal/sim"
	"github.com/quantfabric/mmpolicy/internal/store"
	"github.com/quantfabric/mmpolicy/internal/telemetry"
	libtelemetry "github.com/quantfabric/mmpolicy/lib/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML settings file")
	dataPath := flag.String("data", "", "Path to the level-1 data file (CSV)")
	outDir := flag.String("out", "out", "Base directory for report output")
	testName := flag.String("name", "", "Run name; a UUID is generated when empty")
	runs := flag.Int("runs", 0, "Override the number of Monte-Carlo runs")
	noBacktest := flag.Bool("no-backtest", false, "Solve only, skip the backtest")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	observability.SetLogger(observability.NewStdioLogger(*verbose))

	if *dataPath == "" {
		log.Fatal("data path is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	if *runs > 0 {
		cfg.Backtest.Runs = *runs
	}
	if *noBacktest {
		cfg.Backtest.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dataPath, *outDir, *testName); err != nil {
		log.Fatalf("mmpolicy: %v", err)
	}
}

func run(ctx context.Context, cfg config.Settings, dataPath, outDir, name string) error {
	_, shutdown, err := libtelemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	metrics, err := telemetry.NewMetrics(otel.Meter("mmpolicy"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	records, err := calibration.LoadRecords(dataPath)
	if err != nil {
		return err
	}
	estimator, err := calibration.NewEstimator(cfg.Calibration, cfg.Model.Tick)
	if err != nil {
		return err
	}
	inputs, err := estimator.Estimate(records)
	if err != nil {
		return err
	}

	grid, err := lattice.New(cfg.Model.StartTime, cfg.Model.EndTime,
		cfg.Model.TimeStep, cfg.Model.Tick,
		cfg.Model.LBShares, cfg.Model.UBShares, cfg.Model.VolumeStep,
		len(inputs.Transition))
	if err != nil {
		return err
	}

	solver, err := policy.NewSolver(grid, cfg.Model, inputs, policy.QuadraticPenalty,
		policy.WithMetrics(metrics))
	if err != nil {
		return err
	}
	solution, err := solver.Solve(ctx)
	if err != nil {
		return err
	}

	var stats []sim.Stats
	if cfg.Backtest.Enabled {
		simulator, err := sim.New(policy.NewTable(solution), cfg.Backtest, cfg.Model.Tick, inputs,
			sim.WithMetrics(metrics))
		if err != nil {
			return err
		}
		stats, err = simulator.Run(ctx)
		if err != nil {
			return err
		}
	}

	writer, err := report.NewWriter(outDir, name)
	if err != nil {
		return err
	}
	if err := writer.WriteAll(ctx, cfg, inputs, solution, stats); err != nil {
		return err
	}
	fmt.Printf("report written to %s\n", writer.Dir())

	if cfg.Storage.DSN != "" {
		st, err := store.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer st.Close()
		var agg *sim.Aggregate
		if len(stats) > 0 {
			a := sim.Summarize(stats)
			agg = &a
		}
		id, err := st.SaveResults(ctx, name, cfg, grid, agg)
		if err != nil {
			return err
		}
		observability.Log().Info("results stored", observability.F("solveID", id.String()))
	}
	return nil
}
