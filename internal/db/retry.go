package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/retry"
)

// SQLSTATE classes that no amount of waiting will fix
var fatalConnectCodes = map[string]bool{
	"28000": true, // invalid_authorization_specification
	"28P01": true, // invalid_password
	"3D000": true, // invalid_catalog_name
}

// Connect opens a pool, pings it and applies migrations. Unreachable servers
// are retried with the remote store policy; bad credentials, an unknown
// database or an unparsable DSN fail at once.
func Connect(ctx context.Context, dsn string, opts ...PoolOption) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry.RemoteStore().Do(ctx, "postgres connect", func(ctx context.Context) error {
		p, err := NewPool(ctx, dsn, opts...)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			if fatalConnectError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func fatalConnectError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && fatalConnectCodes[pgErr.Code]
}
