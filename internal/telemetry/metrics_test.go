package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMetricsOnNoopMeter(t *testing.T) {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordSolve(context.Background(), 100, 1.5)
	m.RecordRuns(context.Background(), 10, 0.5, "ok")
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	m.RecordSolve(context.Background(), 1, 1)
	m.RecordRuns(context.Background(), 1, 1, "ok")
}
