// Package store implements the local durable store: pending and synced records,
// the alert read-through cache and the latest dashboard snapshot.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/db"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

// ErrStorage marks a failure of the underlying medium. It is fatal to the
// operation in progress and must be reported to the caller.
var ErrStorage = errors.New("storage failure")

// Store is the local durable store. Implementations survive process restarts.
type Store interface {
	// Append creates a pending record stamped with the current time
	Append(ctx context.Context, payload model.Payload) (int64, error)
	// ListPending returns pending records ordered by creation time, oldest first
	ListPending(ctx context.Context) ([]model.Record, error)
	ListByType(ctx context.Context, t model.RecordType) ([]model.Record, error)
	PendingCount(ctx context.Context) (int, error)
	// MarkSynced flags the ids as synced; unknown or already synced ids are ignored
	MarkSynced(ctx context.Context, ids []int64) error

	SaveAlerts(ctx context.Context, alerts []model.Alert) error
	// GetAlerts returns cached alerts, newest first
	GetAlerts(ctx context.Context) ([]model.Alert, error)
	SetAlertRead(ctx context.Context, id string) error

	ReplaceDashboardSnapshot(ctx context.Context, data json.RawMessage) error
	// GetDashboardSnapshot returns nil when no snapshot was saved yet
	GetDashboardSnapshot(ctx context.Context) (*model.DashboardSnapshot, error)

	// ClearAll drops every record, alert and snapshot
	ClearAll(ctx context.Context) error
	Close() error
}

// Open selects the backend from the DSN: postgres:// or postgresql:// URLs use
// PostgreSQL, anything else is a SQLite file path with an optional sqlite:// prefix.
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store DSN is required")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			return nil, storageErr("failed to open PostgreSQL store", err)
		}
		return NewPostgres(pool), nil
	}
	return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
}

// storageErr wraps err so that errors.Is(err, ErrStorage) holds
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func decodeRecord(id int64, formType string, data []byte) (model.Record, error) {
	rt, err := model.ParseRecordType(formType)
	if err != nil {
		return model.Record{}, fmt.Errorf("record %d: %w", id, err)
	}
	payload, err := model.DecodePayload(rt, data)
	if err != nil {
		return model.Record{}, fmt.Errorf("record %d: %w", id, err)
	}
	return model.Record{ID: id, Type: rt, Payload: payload}, nil
}
