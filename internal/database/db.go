package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logging.Default().WithComponent("database")
	log.Info("Connected to PostgreSQL database", "database", cfg.Database)

	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("Running database migrations")

	migrations := []string{
		// Per-transfer settlement outcomes
		`CREATE TABLE IF NOT EXISTS settlement_results (
			id UUID PRIMARY KEY,
			cycle_id UUID NOT NULL,
			chain_key VARCHAR(20) NOT NULL,
			token_id VARCHAR(20) NOT NULL,
			asset VARCHAR(20) NOT NULL,
			kind VARCHAR(12) NOT NULL,
			amount DECIMAL(38, 18) NOT NULL,
			from_address TEXT,
			to_address TEXT,
			tx_ref TEXT,
			withdrawal_id TEXT,
			state VARCHAR(20) NOT NULL,
			skipped BOOLEAN NOT NULL DEFAULT FALSE,
			skip_reason TEXT,
			error TEXT,
			verification JSONB,
			submitted_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_results_cycle ON settlement_results(cycle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_results_asset ON settlement_results(asset)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_results_state ON settlement_results(state)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_results_submitted ON settlement_results(submitted_at DESC)`,

		// Per-cycle reconciliation reports
		`CREATE TABLE IF NOT EXISTS reconciliation_reports (
			cycle_id UUID PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			pairs_examined INTEGER NOT NULL,
			transfers INTEGER NOT NULL,
			matched INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			report JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_reports_started ON reconciliation_reports(started_at DESC)`,

		// Hot wallet balance snapshots taken each cycle
		`CREATE TABLE IF NOT EXISTS balance_snapshots (
			id BIGSERIAL PRIMARY KEY,
			cycle_id UUID,
			chain_key VARCHAR(20) NOT NULL,
			asset VARCHAR(20) NOT NULL,
			wallet_balance DECIMAL(38, 18) NOT NULL,
			exchange_balance DECIMAL(38, 18) NOT NULL,
			taken_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_snapshots_asset ON balance_snapshots(asset, taken_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
