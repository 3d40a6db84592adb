package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/retry"
)

// sqliteSchema is idempotent, it runs on every open
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS forms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	form_type TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	patient_name TEXT NOT NULL DEFAULT '',
	due_date INTEGER,
	created_at INTEGER NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS dashboard (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	data TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forms_pending ON forms(synced, created_at, id);
CREATE INDEX IF NOT EXISTS idx_forms_type ON forms(form_type, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at DESC);
`

// SQLite is a Store kept in a single on-device file
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	logger *logrus.Entry
}

// OpenSQLite opens or creates the database file at path and ensures the schema.
// The file is opened in WAL mode with a single connection.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, storageErr("failed to create data directory", err)
		}
	}

	logger := logrus.WithField("component", "store").WithField("path", path)
	var db *sql.DB
	err := retry.LocalFile().Do(ctx, "sqlite open", func(ctx context.Context) error {
		var openErr error
		db, openErr = openSQLite(ctx, path)
		return openErr
	})
	if err != nil {
		return nil, storageErr("failed to open sqlite store", err)
	}
	logger.Debug("SQLite store opened")
	return &SQLite{db: db, now: time.Now, logger: logger}, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

func (s *SQLite) Append(ctx context.Context, payload model.Payload) (int64, error) {
	data, err := model.EncodePayload(payload)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forms (form_type, data, created_at, synced) VALUES (?, ?, ?, 0)`,
		string(payload.RecordType()), string(data), s.now().UnixMicro())
	if err != nil {
		return 0, storageErr("failed to insert pending record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("failed to read record id", err)
	}
	return id, nil
}

func (s *SQLite) ListPending(ctx context.Context) ([]model.Record, error) {
	return s.queryRecords(ctx, `SELECT id, form_type, data, created_at, synced
		FROM forms
		WHERE synced = 0
		ORDER BY created_at ASC, id ASC`)
}

func (s *SQLite) ListByType(ctx context.Context, t model.RecordType) ([]model.Record, error) {
	return s.queryRecords(ctx, `SELECT id, form_type, data, created_at, synced
		FROM forms
		WHERE form_type = ?
		ORDER BY created_at ASC, id ASC`, string(t))
}

func (s *SQLite) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query records", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			id        int64
			formType  string
			data      string
			createdAt int64
			synced    bool
		)
		if err := rows.Scan(&id, &formType, &data, &createdAt, &synced); err != nil {
			return nil, storageErr("error scanning record", err)
		}
		record, err := decodeRecord(id, formType, []byte(data))
		if err != nil {
			s.logger.WithError(err).WithField("id", id).Warn("Skipping undecodable record")
			continue
		}
		record.CreatedAt = time.UnixMicro(createdAt).UTC()
		record.State = model.StateFromSynced(synced)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating records", err)
	}
	return records, nil
}

func (s *SQLite) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM forms WHERE synced = 0`).Scan(&n); err != nil {
		return 0, storageErr("failed to count pending records", err)
	}
	return n, nil
}

func (s *SQLite) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE forms SET synced = 1 WHERE synced = 0 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return storageErr("failed to mark records synced", err)
	}
	updated, _ := res.RowsAffected()
	s.logger.WithField("requested", len(ids)).WithField("updated", updated).Debug("Marked records synced")
	return nil
}

func (s *SQLite) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin alerts transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alerts (id, title, message, alert_type, patient_name, due_date, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		title = excluded.title, message = excluded.message, alert_type = excluded.alert_type,
		patient_name = excluded.patient_name, due_date = excluded.due_date,
		created_at = excluded.created_at, is_read = MAX(alerts.is_read, excluded.is_read)`)
	if err != nil {
		return storageErr("failed to prepare alert upsert", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		var due any
		if !a.DueDate.IsZero() {
			due = a.DueDate.UnixMicro()
		}
		if _, err := stmt.ExecContext(ctx, a.ID, a.Title, a.Message, a.AlertType, a.PatientName, due, a.CreatedAt.UnixMicro(), a.IsRead); err != nil {
			return storageErr("failed to save alert "+a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit alerts", err)
	}
	return nil
}

func (s *SQLite) GetAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, message, alert_type, patient_name, due_date, created_at, is_read
		FROM alerts
		ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, storageErr("failed to query alerts", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a         model.Alert
			due       sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &a.AlertType, &a.PatientName, &due, &createdAt, &a.IsRead); err != nil {
			return nil, storageErr("error scanning alert", err)
		}
		if due.Valid {
			a.DueDate = time.UnixMicro(due.Int64).UTC()
		}
		a.CreatedAt = time.UnixMicro(createdAt).UTC()
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating alerts", err)
	}
	return alerts, nil
}

func (s *SQLite) SetAlertRead(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, id); err != nil {
		return storageErr("failed to mark alert read", err)
	}
	return nil
}

func (s *SQLite) ReplaceDashboardSnapshot(ctx context.Context, data json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin dashboard transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dashboard`); err != nil {
		return storageErr("failed to clear dashboard snapshot", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO dashboard (data, fetched_at) VALUES (?, ?)`, string(data), s.now().UnixMicro()); err != nil {
		return storageErr("failed to insert dashboard snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit dashboard snapshot", err)
	}
	return nil
}

func (s *SQLite) GetDashboardSnapshot(ctx context.Context) (*model.DashboardSnapshot, error) {
	var (
		data      string
		fetchedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT data, fetched_at FROM dashboard ORDER BY id DESC LIMIT 1`).Scan(&data, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to read dashboard snapshot", err)
	}
	return &model.DashboardSnapshot{Data: json.RawMessage(data), FetchedAt: time.UnixMicro(fetchedAt).UTC()}, nil
}

func (s *SQLite) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin clear transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"forms", "alerts", "dashboard"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return storageErr("failed to clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit clear", err)
	}
	s.logger.Info("Local store cleared")
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
