// Package postgres provides PostgreSQL-based implementations of the store interfaces.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"logsentinel/internal/config"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// RunMigrations creates the required database tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS service_dimensions (
			id BIGSERIAL PRIMARY KEY,
			service VARCHAR(255) NOT NULL,
			owner VARCHAR(255) NOT NULL,
			tier VARCHAR(100) NOT NULL,
			effective_from TIMESTAMP WITH TIME ZONE NOT NULL,
			effective_to TIMESTAMP WITH TIME ZONE,
			is_current BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_service_dimensions_current
			ON service_dimensions(service) WHERE is_current;
		CREATE INDEX IF NOT EXISTS idx_service_dimensions_from
			ON service_dimensions(service, effective_from);

		CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR(36) PRIMARY KEY,
			rule_name VARCHAR(100) NOT NULL,
			service VARCHAR(255) NOT NULL,
			window_start TIMESTAMP WITH TIME ZONE NOT NULL,
			observed_value DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			owner VARCHAR(255),
			tier VARCHAR(100),
			fired_at TIMESTAMP WITH TIME ZONE NOT NULL,
			notified_at TIMESTAMP WITH TIME ZONE,
			UNIQUE (rule_name, service, window_start)
		);

		ALTER TABLE alerts ADD COLUMN IF NOT EXISTS notified_at TIMESTAMP WITH TIME ZONE;

		CREATE INDEX IF NOT EXISTS idx_alerts_service ON alerts(service);
		CREATE INDEX IF NOT EXISTS idx_alerts_fired_at ON alerts(fired_at);

		CREATE TABLE IF NOT EXISTS quarantined_events (
			id VARCHAR(36) PRIMARY KEY,
			service VARCHAR(255),
			reason VARCHAR(50) NOT NULL,
			event JSONB NOT NULL,
			raw BYTEA,
			stream_partition INTEGER NOT NULL,
			stream_offset BIGINT NOT NULL,
			quarantined_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_quarantined_reason ON quarantined_events(reason);
		CREATE INDEX IF NOT EXISTS idx_quarantined_service ON quarantined_events(service);

		CREATE TABLE IF NOT EXISTS window_metrics (
			service VARCHAR(255) NOT NULL,
			window_start TIMESTAMP WITH TIME ZONE NOT NULL,
			window_end TIMESTAMP WITH TIME ZONE NOT NULL,
			error_count BIGINT NOT NULL,
			total_count BIGINT NOT NULL,
			avg_response_time DOUBLE PRECISION,
			log_volume BIGINT NOT NULL,
			owner VARCHAR(255),
			tier VARCHAR(100),
			revision INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (service, window_start)
		);
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
