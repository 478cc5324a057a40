package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/internal/lattice"
	"github.com/quantfabric/mmpolicy/internal/sim"
	"github.com/quantfabric/mmpolicy/internal/store"
)

var (
	testDSN  string
	setupErr error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "mmpolicy"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := func() (c testcontainers.Container, err error) {
		// testcontainers panics instead of returning an error when no
		// Docker host can be resolved; fold that into the error path.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker unavailable: %v", r)
			}
		}()
		return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if err != nil {
		setupErr = fmt.Errorf("start postgres container: %w", err)
		os.Exit(m.Run())
	}

	host, err := container.Host(ctx)
	if err != nil {
		setupErr = fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		setupErr = fmt.Errorf("container port: %w", err)
	}
	if setupErr == nil {
		testDSN = fmt.Sprintf("postgres://postgres:secret@%s:%s/mmpolicy?sslmode=disable", host, port.Port())
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	if setupErr != nil {
		t.Skipf("postgres unavailable: %v", setupErr)
	}
	ctx := context.Background()
	s, err := store.Open(ctx, config.Storage{DSN: testDSN, ConnectTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := store.Open(context.Background(), config.Storage{DSN: "", ConnectTimeout: time.Second})
	if err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestSaveAndLoadResults(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	cfg := config.Default()
	grid, err := lattice.New(0, 100, 5, 0.01, -50, 50, 10, 3)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}

	agg := sim.Aggregate{
		Runs:             100,
		CashMean:         1.25,
		CashStdDev:       0.5,
		MaxInventoryMean: 120,
		MinInventoryMean: -80,
		BestBidOrders:    4200,
		MarketBuyOrders:  17,
	}
	id, err := s.SaveResults(ctx, "contract-test", cfg, grid, &agg)
	if err != nil {
		t.Fatalf("save results: %v", err)
	}

	got, err := s.LoadAggregate(ctx, id)
	if err != nil {
		t.Fatalf("load aggregate: %v", err)
	}
	if got != agg {
		t.Fatalf("aggregate mismatch: got %+v want %+v", got, agg)
	}
}

func TestSaveResultsWithoutBacktest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	grid, err := lattice.New(0, 100, 5, 0.01, -50, 50, 10, 2)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	id, err := s.SaveResults(ctx, "no-backtest", config.Default(), grid, nil)
	if err != nil {
		t.Fatalf("save results: %v", err)
	}
	if _, err := s.LoadAggregate(ctx, id); err == nil {
		t.Fatal("expected no aggregate row")
	}
}
