package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is a stand-in remote authority that can be switched off
type backend struct {
	srv     *httptest.Server
	down    atomic.Bool
	created atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if b.down.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Head("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Post("/api/family-surveys", func(w http.ResponseWriter, _ *http.Request) {
		b.created.Add(1)
		_, _ = io.WriteString(w, `{"id":"x"}`)
	})
	r.Get("/api/dashboard", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"total_surveys":1,"total_pregnancies":0,"total_vaccinations":0,"total_pnc":0,"unread_alerts":0,"incentives_earned":50}`)
	})
	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func runCommand(t *testing.T, dsn, gatewayURL, stdin string, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--store-dsn", dsn, "--gateway-url", gatewayURL}, args...)
	cfg, err := ParseCLI(full)
	require.NoError(t, err)

	var out bytes.Buffer
	app, err := NewApp(context.Background(), cfg, &out)
	require.NoError(t, err)
	defer app.Close()
	app.stdin = strings.NewReader(stdin)

	err = app.Execute(context.Background())
	return out.String(), err
}

// TestAppOfflineSubmitThenSync tests queueing while unreachable and a later sync
func TestAppOfflineSubmitThenSync(t *testing.T) {
	b := newBackend(t)
	dsn := filepath.Join(t.TempDir(), "aasha.db")
	payload := `{"household_id":"HH-7","members_list":"4","sanitation":"yes","chronic_illnesses":"none"}`

	// a closed port is unreachable, a 503 still answers the probe
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	out, err := runCommand(t, dsn, deadURL, payload, "submit", "--type", "family_survey")
	require.NoError(t, err)
	assert.Contains(t, out, "queued family_survey as #1")

	out, err = runCommand(t, dsn, deadURL, "", "status")
	require.NoError(t, err)
	assert.Equal(t, "offline, 1 forms waiting to sync\n", out)

	out, err = runCommand(t, dsn, b.srv.URL, "", "sync")
	require.NoError(t, err)
	assert.Equal(t, "Successfully synced 1 forms\n", out)
	assert.Equal(t, int32(1), b.created.Load())

	out, err = runCommand(t, dsn, b.srv.URL, "", "status")
	require.NoError(t, err)
	assert.Equal(t, "online, 0 forms waiting to sync\n", out)
}

// TestAppOnlineSubmit tests the direct send path
func TestAppOnlineSubmit(t *testing.T) {
	b := newBackend(t)
	dsn := filepath.Join(t.TempDir(), "aasha.db")

	out, err := runCommand(t, dsn, b.srv.URL, `{"household_id":"HH-1","members_list":"","sanitation":"","chronic_illnesses":""}`, "submit", "--type", "family_survey")
	require.NoError(t, err)
	assert.Equal(t, "sent family_survey\n", out)
	assert.Equal(t, int32(1), b.created.Load())
}

// TestAppServerErrorQueues tests that a 5xx answer while online queues the record
func TestAppServerErrorQueues(t *testing.T) {
	b := newBackend(t)
	b.down.Store(true)
	dsn := filepath.Join(t.TempDir(), "aasha.db")

	out, err := runCommand(t, dsn, b.srv.URL, `{"household_id":"HH-1","members_list":"","sanitation":"","chronic_illnesses":""}`, "submit", "--type", "family_survey")
	require.NoError(t, err)
	assert.Contains(t, out, "queued")

	out, err = runCommand(t, dsn, b.srv.URL, "", "sync")
	assert.Error(t, err)
	assert.Contains(t, out, "family_survey: ")
}

// TestAppSubmitRejectsUnknownFields tests payload validation before anything is stored
func TestAppSubmitRejectsUnknownFields(t *testing.T) {
	b := newBackend(t)
	dsn := filepath.Join(t.TempDir(), "aasha.db")

	_, err := runCommand(t, dsn, b.srv.URL, `{"household":"HH-1"}`, "submit", "--type", "family_survey")
	assert.Error(t, err)
	_, err = runCommand(t, dsn, b.srv.URL, `{}`, "submit", "--type", "vitals")
	assert.Error(t, err)
	assert.Zero(t, b.created.Load())
}

// TestAppDashboard tests the fetched snapshot output and its offline reuse
func TestAppDashboard(t *testing.T) {
	b := newBackend(t)
	dsn := filepath.Join(t.TempDir(), "aasha.db")

	out, err := runCommand(t, dsn, b.srv.URL, "", "dashboard")
	require.NoError(t, err)
	assert.Contains(t, out, `"incentives_earned": 50`)
	assert.Contains(t, out, `"source": "remote"`)

	b.srv.Close()
	out, err = runCommand(t, dsn, b.srv.URL, "", "dashboard")
	require.NoError(t, err)
	assert.Contains(t, out, `"source": "cache"`)
}

// TestAppResetNeedsConfirmation tests the --yes guard
func TestAppResetNeedsConfirmation(t *testing.T) {
	b := newBackend(t)
	dsn := filepath.Join(t.TempDir(), "aasha.db")

	_, err := runCommand(t, dsn, b.srv.URL, "", "reset")
	assert.ErrorContains(t, err, "--yes")

	out, err := runCommand(t, dsn, b.srv.URL, "", "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "local data cleared\n", out)
}
