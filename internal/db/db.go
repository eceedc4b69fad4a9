// Package db archives completed trades and shadow-short records into
// Postgres for reporting, following the teacher's internal/database/db.go
// pool setup. It is additive-only: nothing in the core decision pipeline
// (gate, position, executor, monitor) ever reads from it back.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"doge-flow-trader/internal/logging"
)

// DB wraps the Postgres connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds the connection parameters (config.DatabaseConfig maps onto this 1:1).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Open connects and runs the archive's migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	d := &DB{Pool: pool}
	if err := d.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logging.Info("db: connected", "database", cfg.Database)
	return d, nil
}

// Close releases the pool.
func (d *DB) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

func (d *DB) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS completed_trades (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			size_fraction DECIMAL(10, 4) NOT NULL,
			leverage INTEGER NOT NULL,
			pnl_pct DECIMAL(10, 4) NOT NULL,
			close_reason VARCHAR(40) NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completed_trades_symbol ON completed_trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_completed_trades_closed_at ON completed_trades(closed_at)`,

		`CREATE TABLE IF NOT EXISTS shadow_shorts (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			confidence DECIMAL(10, 4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			simulated_pnl_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shadow_shorts_recorded_at ON shadow_shorts(recorded_at)`,
	}

	for _, stmt := range statements {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: migrate: %w", err)
		}
	}
	return nil
}

// CompletedTrade is one archived round trip.
type CompletedTrade struct {
	Symbol       string
	EntryPrice   float64
	ExitPrice    float64
	SizeFraction float64
	Leverage     int
	PnLPct       float64
	CloseReason  string
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// RecordTrade archives a completed trade.
func (d *DB) RecordTrade(ctx context.Context, t CompletedTrade) error {
	const query = `
		INSERT INTO completed_trades
			(symbol, entry_price, exit_price, size_fraction, leverage, pnl_pct, close_reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := d.Pool.Exec(ctx, query,
		t.Symbol, t.EntryPrice, t.ExitPrice, t.SizeFraction, t.Leverage, t.PnLPct, t.CloseReason, t.OpenedAt, t.ClosedAt)
	if err != nil {
		return fmt.Errorf("db: record trade: %w", err)
	}
	return nil
}

// ShadowShort is one archived paper-trade record.
type ShadowShort struct {
	Symbol          string
	Confidence      float64
	EntryPrice      float64
	SimulatedPnLPct float64
	RecordedAt      time.Time
}

// RecordShadowShort archives a shadow-short record (mirrors
// internal/storage.ShadowShortLog's .jsonl entries into Postgres for
// cross-run reporting; the .jsonl file remains the operational source).
func (d *DB) RecordShadowShort(ctx context.Context, s ShadowShort) error {
	const query = `
		INSERT INTO shadow_shorts (symbol, confidence, entry_price, simulated_pnl_pct, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := d.Pool.Exec(ctx, query, s.Symbol, s.Confidence, s.EntryPrice, s.SimulatedPnLPct, s.RecordedAt)
	if err != nil {
		return fmt.Errorf("db: record shadow short: %w", err)
	}
	return nil
}
