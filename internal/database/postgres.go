package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/pulse/internal/config"
	"go.uber.org/zap"
)

const (
	applicationName = "pulse"

	// migrationLockID serialises schema migration across replicas.
	migrationLockID int64 = 0x70756c7365 // "pulse"
)

//go:embed schema.sql
var schemaSQL string

// PostgresDB holds the pool behind the event log, link, snapshot, heat-map
// and variant stores.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// PoolStats is a point-in-time view of the pool for the housekeeping loop.
type PoolStats struct {
	Idle     int
	Acquired int
	Total    int
}

// newPoolConfig builds the pgxpool config for the engagement stores.
// Tracking traffic is bursty, so idle connections are kept warm up to MinConns.
func newPoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	return poolConfig, nil
}

// NewPostgresDB connects the pool and verifies it with a ping.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	poolConfig, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
		zap.Int("max_conns", cfg.MaxConns),
	)

	return &PostgresDB{
		Pool:   pool,
		logger: logger,
	}, nil
}

func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("PostgreSQL connection pool closed")
	}
}

// Health is registered as the "postgres" check of /health.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate applies the embedded schema inside one transaction. A transaction
// advisory lock keeps concurrently starting replicas from racing on DDL.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	db.logger.Info("PostgreSQL schema applied")
	return nil
}

func (db *PostgresDB) Stats() PoolStats {
	s := db.Pool.Stat()
	return PoolStats{
		Idle:     int(s.IdleConns()),
		Acquired: int(s.AcquiredConns()),
		Total:    int(s.TotalConns()),
	}
}
