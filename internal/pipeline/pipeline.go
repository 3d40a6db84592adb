// Package pipeline is the producer facing side of the offline-first submission
// flow: it decides whether a record is sent or queued and serves alerts and
// dashboard data with a local fallback.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/gateway"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/store"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/sync"
)

// Gateway is the remote authority
type Gateway interface {
	Create(ctx context.Context, payload model.Payload) error
	FetchAlerts(ctx context.Context) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	FetchDashboard(ctx context.Context) (json.RawMessage, error)
}

// Status reports connectivity
type Status interface {
	Online() bool
}

// Drainer runs drains of the pending queue
type Drainer interface {
	Drain(ctx context.Context) sync.Summary
	IsDraining() bool
}

// Source tells where returned data came from
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// Outcome of a submission
type Outcome struct {
	// Sent is true when the remote authority accepted the record directly
	Sent bool
	// Queued is true when the record was stored locally as pending
	Queued bool
	// ID is the local id of a queued record
	ID int64
}

// Pipeline wires the local store, the gateway and the sync engine together
type Pipeline struct {
	store   store.Store
	gateway Gateway
	status  Status
	engine  Drainer
	logger  *logrus.Entry
}

// New creates a Pipeline
func New(st store.Store, gw Gateway, status Status, engine Drainer) *Pipeline {
	return &Pipeline{
		store:   st,
		gateway: gw,
		status:  status,
		engine:  engine,
		logger:  logrus.WithField("component", "pipeline"),
	}
}

// Submit sends the payload when online and queues it otherwise. A transport
// failure while online queues the payload too; a rejection is returned as is.
func (p *Pipeline) Submit(ctx context.Context, payload model.Payload) (Outcome, error) {
	if payload == nil {
		return Outcome{}, fmt.Errorf("nil payload")
	}
	if !payload.RecordType().Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", model.ErrUnknownRecordType, payload.RecordType())
	}
	logger := p.logger.WithField("type", payload.RecordType())

	if p.status.Online() {
		err := p.gateway.Create(ctx, payload)
		if err == nil {
			logger.Info("Record sent")
			return Outcome{Sent: true}, nil
		}
		if !gateway.IsTransport(err) {
			return Outcome{}, err
		}
		logger.WithError(err).Warn("Send failed, queueing record")
	}

	id, err := p.store.Append(ctx, payload)
	if err != nil {
		return Outcome{}, err
	}
	logger.WithField("id", id).Info("Record queued")
	p.logPending(ctx)
	return Outcome{Queued: true, ID: id}, nil
}

// PendingCount is the number of records waiting for the next drain
func (p *Pipeline) PendingCount(ctx context.Context) (int, error) {
	return p.store.PendingCount(ctx)
}

// Records lists every stored record of type t
func (p *Pipeline) Records(ctx context.Context, t model.RecordType) ([]model.Record, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownRecordType, t)
	}
	return p.store.ListByType(ctx, t)
}

// Online reports the current connectivity
func (p *Pipeline) Online() bool {
	return p.status.Online()
}

// SyncNow runs one drain and returns its summary
func (p *Pipeline) SyncNow(ctx context.Context) sync.Summary {
	summary := p.engine.Drain(ctx)
	if !summary.Skipped {
		p.logPending(ctx)
	}
	return summary
}

// Drain runs a drain for a connectivity transition, the summary is only logged
func (p *Pipeline) Drain(ctx context.Context) {
	summary := p.SyncNow(ctx)
	entry := p.logger.WithField("synced", summary.SyncedCount)
	if summary.Success || summary.Skipped {
		entry.Info(summary.Message())
		return
	}
	entry.Warn(summary.Message())
}

// IsSyncing reports whether a drain is in flight
func (p *Pipeline) IsSyncing() bool {
	return p.engine.IsDraining()
}

// Alerts returns the server's alerts when reachable and refreshes the cache
// with them; otherwise it returns the cached copy.
func (p *Pipeline) Alerts(ctx context.Context) ([]model.Alert, Source, error) {
	if p.status.Online() {
		alerts, err := p.gateway.FetchAlerts(ctx)
		switch {
		case err == nil:
			if err := p.store.SaveAlerts(ctx, alerts); err != nil {
				return nil, SourceRemote, err
			}
			// the cache keeps read flags set while offline
			cached, err := p.store.GetAlerts(ctx)
			return cached, SourceRemote, err
		case gateway.IsTransport(err):
			p.logger.WithError(err).Warn("Failed to fetch alerts, using cache")
		default:
			return nil, SourceRemote, err
		}
	}
	alerts, err := p.store.GetAlerts(ctx)
	return alerts, SourceCache, err
}

// MarkAlertRead flags the alert locally and, when online, on the server.
// A transport failure on the server call is not an error, the local flag survives
// later refreshes.
func (p *Pipeline) MarkAlertRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("alert id is required")
	}
	if err := p.store.SetAlertRead(ctx, id); err != nil {
		return err
	}
	if !p.status.Online() {
		return nil
	}
	if err := p.gateway.MarkAlertRead(ctx, id); err != nil {
		if gateway.IsTransport(err) {
			p.logger.WithError(err).WithField("alert", id).Warn("Failed to mark alert read remotely")
			return nil
		}
		return err
	}
	return nil
}

// Dashboard returns fresh statistics when reachable, storing them as the new
// snapshot; otherwise the last snapshot, which is nil if none was ever fetched.
func (p *Pipeline) Dashboard(ctx context.Context) (*model.DashboardSnapshot, Source, error) {
	if p.status.Online() {
		data, err := p.gateway.FetchDashboard(ctx)
		switch {
		case err == nil:
			if err := p.store.ReplaceDashboardSnapshot(ctx, data); err != nil {
				return nil, SourceRemote, err
			}
			snap, err := p.store.GetDashboardSnapshot(ctx)
			return snap, SourceRemote, err
		case gateway.IsTransport(err):
			p.logger.WithError(err).Warn("Failed to fetch dashboard, using last snapshot")
		default:
			return nil, SourceRemote, err
		}
	}
	snap, err := p.store.GetDashboardSnapshot(ctx)
	return snap, SourceCache, err
}

// Reset drops all local data. It refuses while a drain is running.
func (p *Pipeline) Reset(ctx context.Context) error {
	if p.engine.IsDraining() {
		return ErrSyncInProgress
	}
	return p.store.ClearAll(ctx)
}

// ErrSyncInProgress is returned by Reset while a drain is running
var ErrSyncInProgress = errors.New("sync in progress")

func (p *Pipeline) logPending(ctx context.Context) {
	n, err := p.store.PendingCount(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to count pending records")
		return
	}
	p.logger.WithField("pending", n).Info("Forms waiting to sync")
}
