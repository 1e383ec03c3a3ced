// Package db provides the Postgres-backed tenant store. Deployments with
// more than a handful of tenants keep their configuration here instead of a
// TOML file; the registry reloads from it on demand or on a timer.
package db

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailflow/rudder/config"
	"github.com/mailflow/rudder/logger"
)

// MigrationsFS embeds the schema migrations so rudder-admin can apply them
// without shipping SQL files alongside the binary.
//
//go:embed migrations
var MigrationsFS embed.FS

type Database struct {
	Pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	maxLifetime, err := cfg.GetMaxConnLifetime()
	if err != nil {
		return nil, fmt.Errorf("invalid max_conn_lifetime: %w", err)
	}
	poolConfig.MaxConnLifetime = maxLifetime

	if cfg.LogQueries {
		poolConfig.ConnConfig.Tracer = &queryTracer{}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	logger.Info("Connected to database", "host", cfg.Host, "name", cfg.Name)

	queryTimeout, err := cfg.GetQueryTimeout()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid query_timeout: %w", err)
	}

	return &Database{
		Pool:         pool,
		queryTimeout: queryTimeout,
	}, nil
}

func (d *Database) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// queryCtx applies the configured per-query timeout.
func (d *Database) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.queryTimeout)
}
