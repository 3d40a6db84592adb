// Package migrations contains database migration definitions and functionality for the
// PostgreSQL-backed local store.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// formsSQL creates the submission queue; synced = false means pending
const formsSQL = `
CREATE TABLE forms (
	id bigserial PRIMARY KEY,
	form_type text NOT NULL,
	data jsonb NOT NULL,
	created_at timestamp with time zone NOT NULL DEFAULT now(),
	synced boolean NOT NULL DEFAULT false
);
CREATE INDEX idx_forms_pending ON forms(created_at, id) WHERE NOT synced;
CREATE INDEX idx_forms_type ON forms(form_type, created_at);
`

// cacheSQL creates the read-through mirrors of server data. The dashboard
// table keeps at most one row.
const cacheSQL = `
CREATE TABLE alerts (
	id text PRIMARY KEY,
	title text NOT NULL,
	message text NOT NULL,
	alert_type text NOT NULL,
	patient_name text NOT NULL DEFAULT '',
	due_date timestamp with time zone,
	created_at timestamp with time zone NOT NULL DEFAULT now(),
	is_read boolean NOT NULL DEFAULT false
);
CREATE INDEX idx_alerts_created ON alerts(created_at DESC);

CREATE TABLE dashboard (
	id bigserial PRIMARY KEY,
	data jsonb NOT NULL,
	fetched_at timestamp with time zone NOT NULL DEFAULT now()
);
`

func execSQL(sql string) func(context.Context, pgx.Tx) error {
	return func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql)
		return err
	}
}

// migrations lists every upgrade step in order; append, never edit
var migrations = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{Name: "001_forms_queue", Func: execSQL(formsSQL)},
		&migrator.Migration{Name: "002_alerts_and_dashboard_cache", Func: execSQL(cacheSQL)},
	)
}

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName("aasha_sync_migrations"),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
