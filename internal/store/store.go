// Package store persists solve metadata and backtest aggregates to Postgres.
// The store is optional: it only exists when a DSN is configured, and flat
// files remain the primary output either way.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	dbmigrations "github.com/quantfabric/mmpolicy/db/migrations"

	"github.com/quantfabric/mmpolicy/config"
	"github.com/quantfabric/mmpolicy/errs"
	"github.com/quantfabric/mmpolicy/internal/lattice"
	"github.com/quantfabric/mmpolicy/internal/observability"
	"github.com/quantfabric/mmpolicy/internal/sim"
)

// Store writes results through a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, applies the embedded migrations and returns a
// ready store.
func Open(ctx context.Context, cfg config.Storage) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errs.Invalid("store", "dsn", "must not be empty")
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := migrateUp(ctx, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("store", errs.CodeStorage, errs.WithMessage("create connection pool"), errs.WithCause(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("store", errs.CodeStorage, errs.WithMessage("ping database"), errs.WithCause(err))
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func migrateUp(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errs.New("store", errs.CodeStorage, errs.WithMessage("open migrations connection"), errs.WithCause(err))
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return errs.New("store", errs.CodeStorage, errs.WithMessage("ping migrations database"), errs.WithCause(err))
	}

	src, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return errs.New("store", errs.CodeStorage, errs.WithMessage("load embedded migrations"), errs.WithCause(err))
	}
	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return errs.New("store", errs.CodeStorage, errs.WithMessage("initialise migrate driver"), errs.WithCause(err))
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return errs.New("store", errs.CodeStorage, errs.WithMessage("initialise migrate instance"), errs.WithCause(err))
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errs.New("store", errs.CodeStorage, errs.WithMessage("apply migrations"), errs.WithCause(err))
	}
	observability.Log().Debug("migrations applied")
	return nil
}

const solveInsertSQL = `
INSERT INTO solves (
    id, name, time_steps, inventory_steps, spread_steps, seed, settings
)
VALUES (
    @id, @name, @time_steps, @inventory_steps, @spread_steps, @seed, @settings::jsonb
);
`

const aggregateInsertSQL = `
INSERT INTO backtest_aggregates (
    solve_id, runs,
    cash_mean, cash_stddev,
    max_inventory_mean, max_inventory_stddev,
    min_inventory_mean, min_inventory_stddev,
    best_bid_orders, improved_bid_orders,
    best_ask_orders, improved_ask_orders,
    market_buy_orders, market_sell_orders
)
VALUES (
    @solve_id, @runs,
    @cash_mean, @cash_stddev,
    @max_inventory_mean, @max_inventory_stddev,
    @min_inventory_mean, @min_inventory_stddev,
    @best_bid_orders, @improved_bid_orders,
    @best_ask_orders, @improved_ask_orders,
    @market_buy_orders, @market_sell_orders
);
`

// SaveResults records one solve and, when the backtest ran, its aggregate
// statistics in the same transaction. It returns the solve identifier.
func (s *Store) SaveResults(ctx context.Context, name string, cfg config.Settings, grid lattice.Grid, agg *sim.Aggregate) (uuid.UUID, error) {
	id := uuid.New()
	settings, err := json.Marshal(cfg)
	if err != nil {
		return uuid.Nil, errs.New("store", errs.CodeStorage, errs.WithMessage("marshal settings"), errs.WithCause(err))
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, solveInsertSQL, pgx.NamedArgs{
			"id":              id,
			"name":            name,
			"time_steps":      grid.NumTimeSteps,
			"inventory_steps": grid.NumInventorySteps,
			"spread_steps":    grid.NumSpreadSteps,
			"seed":            cfg.Backtest.Seed,
			"settings":        string(settings),
		}); err != nil {
			return err
		}
		if agg == nil {
			return nil
		}
		_, err := tx.Exec(ctx, aggregateInsertSQL, pgx.NamedArgs{
			"solve_id":             id,
			"runs":                 agg.Runs,
			"cash_mean":            agg.CashMean,
			"cash_stddev":          agg.CashStdDev,
			"max_inventory_mean":   agg.MaxInventoryMean,
			"max_inventory_stddev": agg.MaxInventoryStdDev,
			"min_inventory_mean":   agg.MinInventoryMean,
			"min_inventory_stddev": agg.MinInventoryStdDev,
			"best_bid_orders":      agg.BestBidOrders,
			"improved_bid_orders":  agg.ImprovedBidOrders,
			"best_ask_orders":      agg.BestAskOrders,
			"improved_ask_orders":  agg.ImprovedAskOrders,
			"market_buy_orders":    agg.MarketBuyOrders,
			"market_sell_orders":   agg.MarketSellOrders,
		})
		return err
	})
	if err != nil {
		return uuid.Nil, errs.New("store", errs.CodeStorage, errs.WithMessage("save results"), errs.WithCause(err))
	}
	return id, nil
}

// LoadAggregate reads back the aggregate stored for a solve.
func (s *Store) LoadAggregate(ctx context.Context, solveID uuid.UUID) (sim.Aggregate, error) {
	const q = `
SELECT runs, cash_mean, cash_stddev,
       max_inventory_mean, max_inventory_stddev,
       min_inventory_mean, min_inventory_stddev,
       best_bid_orders, improved_bid_orders,
       best_ask_orders, improved_ask_orders,
       market_buy_orders, market_sell_orders
FROM backtest_aggregates WHERE solve_id = @solve_id;
`
	var agg sim.Aggregate
	row := s.pool.QueryRow(ctx, q, pgx.NamedArgs{"solve_id": solveID})
	if err := row.Scan(
		&agg.Runs, &agg.CashMean, &agg.CashStdDev,
		&agg.MaxInventoryMean, &agg.MaxInventoryStdDev,
		&agg.MinInventoryMean, &agg.MinInventoryStdDev,
		&agg.BestBidOrders, &agg.ImprovedBidOrders,
		&agg.BestAskOrders, &agg.ImprovedAskOrders,
		&agg.MarketBuyOrders, &agg.MarketSellOrders,
	); err != nil {
		return sim.Aggregate{}, errs.New("store", errs.CodeStorage, errs.WithMessage("load aggregate"), errs.WithCause(err))
	}
	return agg, nil
}
