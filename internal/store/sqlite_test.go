package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

func openTempSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aasha.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// steppingClock returns strictly increasing timestamps
func steppingClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		next = next.Add(time.Second)
		return next
	}
}

// TestSQLiteAppendAndListPending tests FIFO order by creation time
func TestSQLiteAppendAndListPending(t *testing.T) {
	s, _ := openTempSQLite(t)
	s.now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	id1, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "HH-1"})
	require.NoError(t, err)
	id2, err := s.Append(ctx, model.LeprosyReport{PatientName: "Ravi"})
	require.NoError(t, err)
	id3, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "HH-2"})
	require.NoError(t, err)
	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{id1, id2, id3}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.Equal(t, model.LeprosyReport{PatientName: "Ravi"}, pending[1].Payload)
	assert.Equal(t, model.StatePending, pending[0].State)
	assert.True(t, pending[0].CreatedAt.Before(pending[1].CreatedAt))

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// TestSQLiteOrderIgnoresInsertionOrder tests that ordering follows created_at, not id
func TestSQLiteOrderIgnoresInsertionOrder(t *testing.T) {
	s, _ := openTempSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base.Add(time.Hour) }
	later, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "late"})
	require.NoError(t, err)
	s.now = func() time.Time { return base }
	earlier, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "early"})
	require.NoError(t, err)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, earlier, pending[0].ID)
	assert.Equal(t, later, pending[1].ID)
}

// TestSQLiteMarkSyncedIdempotent tests that re-marking and unknown ids are no-ops
func TestSQLiteMarkSyncedIdempotent(t *testing.T) {
	s, _ := openTempSQLite(t)
	ctx := context.Background()

	id1, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "HH-1"})
	require.NoError(t, err)
	id2, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "HH-2"})
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, []int64{id1, 9999}))
	require.NoError(t, s.MarkSynced(ctx, []int64{id1}))
	require.NoError(t, s.MarkSynced(ctx, nil))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)

	all, err := s.ListByType(ctx, model.TypeFamilySurvey)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.StateSynced, all[0].State)
	assert.Equal(t, model.StatePending, all[1].State)
}

// TestSQLiteDurableAcrossReopen tests that pending records survive a restart
func TestSQLiteDurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "aasha.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	id, err := s.Append(ctx, model.PregnancyReport{PatientName: "Sita", Gravida: 2, LMP: time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	report, ok := pending[0].Payload.(model.PregnancyReport)
	require.True(t, ok)
	assert.Equal(t, 2, report.Gravida)
	assert.True(t, report.LMP.Equal(time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)))
}

// TestSQLiteAlerts tests upsert, newest-first order and sticky read flags
func TestSQLiteAlerts(t *testing.T) {
	s, _ := openTempSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveAlerts(ctx, []model.Alert{
		{ID: "old", Title: "ANC", Message: "m", AlertType: "anc", CreatedAt: base, DueDate: base.Add(48 * time.Hour)},
		{ID: "new", Title: "OPV", Message: "m", AlertType: "vaccination", CreatedAt: base.Add(time.Hour)},
	}))
	require.NoError(t, s.SetAlertRead(ctx, "old"))
	require.NoError(t, s.SetAlertRead(ctx, "missing"))

	// a refresh from the server must not clear the local read flag
	require.NoError(t, s.SaveAlerts(ctx, []model.Alert{
		{ID: "old", Title: "ANC updated", Message: "m", AlertType: "anc", CreatedAt: base},
	}))

	alerts, err := s.GetAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "new", alerts[0].ID)
	assert.False(t, alerts[0].IsRead)
	assert.True(t, alerts[0].DueDate.IsZero())
	assert.Equal(t, "old", alerts[1].ID)
	assert.Equal(t, "ANC updated", alerts[1].Title)
	assert.True(t, alerts[1].IsRead)
}

// TestSQLiteDashboardSnapshot tests that only the latest snapshot is kept
func TestSQLiteDashboardSnapshot(t *testing.T) {
	s, _ := openTempSQLite(t)
	ctx := context.Background()

	snap, err := s.GetDashboardSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, s.ReplaceDashboardSnapshot(ctx, json.RawMessage(`{"total_surveys":1}`)))
	require.NoError(t, s.ReplaceDashboardSnapshot(ctx, json.RawMessage(`{"total_surveys":7}`)))

	snap, err = s.GetDashboardSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	stats, err := snap.Stats()
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalSurveys)

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM dashboard`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

// TestSQLiteClearAll tests that every collection is emptied
func TestSQLiteClearAll(t *testing.T) {
	s, _ := openTempSQLite(t)
	ctx := context.Background()

	_, err := s.Append(ctx, model.FamilySurvey{HouseholdID: "HH-1"})
	require.NoError(t, err)
	require.NoError(t, s.SaveAlerts(ctx, []model.Alert{{ID: "a", Title: "t", Message: "m", AlertType: "x", CreatedAt: time.Now()}}))
	require.NoError(t, s.ReplaceDashboardSnapshot(ctx, json.RawMessage(`{}`)))

	require.NoError(t, s.ClearAll(ctx))

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	alerts, err := s.GetAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	snap, err := s.GetDashboardSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

// TestSQLiteStorageFailure tests that a closed database reports ErrStorage
func TestSQLiteStorageFailure(t *testing.T) {
	s, _ := openTempSQLite(t)
	require.NoError(t, s.Close())

	_, err := s.Append(context.Background(), model.FamilySurvey{HouseholdID: "HH-1"})
	assert.ErrorIs(t, err, ErrStorage)
	_, err = s.ListPending(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
}

// TestAppendRejectsNilPayload tests payload validation before any write
func TestAppendRejectsNilPayload(t *testing.T) {
	s, _ := openTempSQLite(t)
	_, err := s.Append(context.Background(), nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStorage)
}

// TestOpenRequiresDSN tests the empty DSN guard
func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
