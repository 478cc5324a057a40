// Package telemetry holds the instruments recorded by the solver and the
// Monte-Carlo simulator.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments the engines record into. A nil *Metrics is
// valid and records nothing, so callers never need to guard.
type Metrics struct {
	solveCells    metric.Int64Counter
	solveDuration metric.Float64Histogram
	simRuns       metric.Int64Counter
	simDuration   metric.Float64Histogram
}

// NewMetrics creates the instrument set on the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cells, err := meter.Int64Counter("solver.cells.evaluated",
		metric.WithDescription("Lattice cells evaluated during backward induction"),
		metric.WithUnit("{cell}"))
	if err != nil {
		return nil, fmt.Errorf("create solver.cells.evaluated: %w", err)
	}
	solveDur, err := meter.Float64Histogram("solver.solve.duration",
		metric.WithDescription("Wall time of one full policy solve"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create solver.solve.duration: %w", err)
	}
	runs, err := meter.Int64Counter("backtest.runs.completed",
		metric.WithDescription("Monte-Carlo runs completed"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, fmt.Errorf("create backtest.runs.completed: %w", err)
	}
	simDur, err := meter.Float64Histogram("backtest.batch.duration",
		metric.WithDescription("Wall time of one Monte-Carlo batch"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create backtest.batch.duration: %w", err)
	}
	return &Metrics{
		solveCells:    cells,
		solveDuration: solveDur,
		simRuns:       runs,
		simDuration:   simDur,
	}, nil
}

// RecordSolve records the size and duration of one completed solve.
func (m *Metrics) RecordSolve(ctx context.Context, cells int64, seconds float64) {
	if m == nil {
		return
	}
	m.solveCells.Add(ctx, cells)
	m.solveDuration.Record(ctx, seconds)
}

// RecordRuns records completed Monte-Carlo runs and the batch duration.
func (m *Metrics) RecordRuns(ctx context.Context, runs int64, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.simRuns.Add(ctx, runs, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.simDuration.Record(ctx, seconds)
}
