// Package db provides PostgreSQL connection management for the local store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/migrations"
)

// PgxIface is the subset of pgx the PostgreSQL store issues queries through
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgxPoolIface is a PgxIface that owns its connections
type PgxPoolIface interface {
	PgxIface
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Ping(ctx context.Context) error
	Close()
}

// PoolOption adjusts the pool configuration before the pool is created
type PoolOption = func(*pgxpool.Config) error

const (
	applicationName = "aasha_sync"
	connectTimeout  = 5 * time.Second
	// a single local writer never needs more than a handful of connections
	maxConns    = 4
	maxIdleTime = 15 * time.Second
)

// NewPool parses dsn, applies the store's pool settings and then opts
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL DSN: %w", err)
	}
	logger := logrus.WithField("component", "postgresql")
	if cfg.ConnConfig.ConnectTimeout == 0 {
		cfg.ConnConfig.ConnectTimeout = connectTimeout
	}
	if cfg.MaxConns > maxConns {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = maxIdleTime
	cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	cfg.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Migrate brings the forms, alerts and dashboard tables up to date on one
// pooled connection
func Migrate(ctx context.Context, pool PgxPoolIface) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	logger := logrus.WithField("component", "postgresql")
	pending, err := migrations.NeedsUpgrade(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if !pending {
		logger.Debug("Store schema is up to date")
		return nil
	}
	logger.Info("Applying store migrations")
	if err := migrations.Apply(ctx, conn.Conn()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("Store migrations applied")
	return nil
}
