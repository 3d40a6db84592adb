package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/db"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

// Postgres is a Store backed by the forms, alerts and dashboard tables
type Postgres struct {
	pool   db.PgxIface
	now    func() time.Time
	logger *logrus.Entry
}

// NewPostgres wraps an already migrated pool
func NewPostgres(pool db.PgxIface) *Postgres {
	return &Postgres{
		pool:   pool,
		now:    time.Now,
		logger: logrus.WithField("component", "store"),
	}
}

// Append inserts a pending record
func (s *Postgres) Append(ctx context.Context, payload model.Payload) (int64, error) {
	data, err := model.EncodePayload(payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO forms (form_type, data, created_at, synced) VALUES ($1, $2, $3, false) RETURNING id`,
		string(payload.RecordType()), data, s.now().UTC()).Scan(&id)
	if err != nil {
		return 0, storageErr("failed to insert pending record", err)
	}
	return id, nil
}

// ListPending retrieves records that still need to reach the remote authority
func (s *Postgres) ListPending(ctx context.Context) ([]model.Record, error) {
	return s.queryRecords(ctx, `SELECT id, form_type, data, created_at, synced
		FROM forms
		WHERE NOT synced
		ORDER BY created_at ASC, id ASC`)
}

// ListByType retrieves every record of type t, pending or synced
func (s *Postgres) ListByType(ctx context.Context, t model.RecordType) ([]model.Record, error) {
	return s.queryRecords(ctx, `SELECT id, form_type, data, created_at, synced
		FROM forms
		WHERE form_type = $1
		ORDER BY created_at ASC, id ASC`, string(t))
}

func (s *Postgres) queryRecords(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query records", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			id        int64
			formType  string
			data      []byte
			createdAt time.Time
			synced    bool
		)
		if err := rows.Scan(&id, &formType, &data, &createdAt, &synced); err != nil {
			return nil, storageErr("error scanning record", err)
		}
		record, err := decodeRecord(id, formType, data)
		if err != nil {
			// the row stays in place, it just cannot be replayed
			s.logger.WithError(err).WithField("id", id).Warn("Skipping undecodable record")
			continue
		}
		record.CreatedAt = createdAt
		record.State = model.StateFromSynced(synced)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating records", err)
	}
	return records, nil
}

// PendingCount returns the number of pending records
func (s *Postgres) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM forms WHERE NOT synced`).Scan(&n); err != nil {
		return 0, storageErr("failed to count pending records", err)
	}
	return n, nil
}

// MarkSynced flags the given ids as synced
func (s *Postgres) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	result, err := s.pool.Exec(ctx, `UPDATE forms SET synced = true WHERE id = ANY($1) AND NOT synced`, ids)
	if err != nil {
		return storageErr("failed to mark records synced", err)
	}
	s.logger.WithField("requested", len(ids)).WithField("updated", result.RowsAffected()).Debug("Marked records synced")
	return nil
}

// SaveAlerts upserts the alerts using a single batch. A locally set read flag
// is never cleared by a refresh.
func (s *Postgres) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `INSERT INTO alerts (id, title, message, alert_type, patient_name, due_date, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title, message = EXCLUDED.message, alert_type = EXCLUDED.alert_type,
		patient_name = EXCLUDED.patient_name, due_date = EXCLUDED.due_date,
		created_at = EXCLUDED.created_at, is_read = alerts.is_read OR EXCLUDED.is_read`
	for _, a := range alerts {
		batch.Queue(query, a.ID, a.Title, a.Message, a.AlertType, a.PatientName, nullableTime(a.DueDate), a.CreatedAt, a.IsRead)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return storageErr("failed to save alerts", err)
	}
	s.logger.WithField("count", len(alerts)).Debug("Saved alerts")
	return nil
}

// GetAlerts returns cached alerts newest first
func (s *Postgres) GetAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, message, alert_type, patient_name, due_date, created_at, is_read
		FROM alerts
		ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, storageErr("failed to query alerts", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a   model.Alert
			due *time.Time
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &a.AlertType, &a.PatientName, &due, &a.CreatedAt, &a.IsRead); err != nil {
			return nil, storageErr("error scanning alert", err)
		}
		if due != nil {
			a.DueDate = *due
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating alerts", err)
	}
	return alerts, nil
}

// SetAlertRead marks the cached alert as read; an unknown id is not an error
func (s *Postgres) SetAlertRead(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE alerts SET is_read = true WHERE id = $1`, id); err != nil {
		return storageErr("failed to mark alert read", err)
	}
	return nil
}

// ReplaceDashboardSnapshot swaps the stored snapshot inside one transaction
func (s *Postgres) ReplaceDashboardSnapshot(ctx context.Context, data json.RawMessage) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dashboard`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO dashboard (data, fetched_at) VALUES ($1, $2)`, []byte(data), s.now().UTC())
		return err
	})
	if err != nil {
		return storageErr("failed to replace dashboard snapshot", err)
	}
	return nil
}

// GetDashboardSnapshot returns the latest snapshot or nil
func (s *Postgres) GetDashboardSnapshot(ctx context.Context) (*model.DashboardSnapshot, error) {
	var (
		data      []byte
		fetchedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT data, fetched_at FROM dashboard ORDER BY id DESC LIMIT 1`).Scan(&data, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to read dashboard snapshot", err)
	}
	return &model.DashboardSnapshot{Data: json.RawMessage(data), FetchedAt: fetchedAt}, nil
}

// ClearAll empties every table of the local store
func (s *Postgres) ClearAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE forms, alerts, dashboard`); err != nil {
		return storageErr("failed to clear local store", err)
	}
	s.logger.Info("Local store cleared")
	return nil
}

// Close releases the pool when the store owns one
func (s *Postgres) Close() error {
	if c, ok := s.pool.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
