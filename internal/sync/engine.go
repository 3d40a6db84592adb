// Package sync drains the pending queue to the remote authority and reconciles
// successful submissions back into the local store.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/log"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

// Queue is the part of the local store a drain needs
type Queue interface {
	ListPending(ctx context.Context) ([]model.Record, error)
	MarkSynced(ctx context.Context, ids []int64) error
}

// Submitter creates one record on the remote authority
type Submitter interface {
	Create(ctx context.Context, payload model.Payload) error
}

// StatusSource reports the current connectivity
type StatusSource interface {
	Online() bool
}

// AccountingPolicy decides which pending ids are marked synced after a drain
type AccountingPolicy int

const (
	// AccountingExact marks exactly the ids whose submission succeeded
	AccountingExact AccountingPolicy = iota
	// AccountingPrefix marks the first N ids of the pending list, N being the
	// total number of successful submissions. Kept for compatibility with
	// clients that relied on it; it can mark the wrong records when a group
	// other than the first one fails.
	AccountingPrefix
)

func (p AccountingPolicy) String() string {
	switch p {
	case AccountingExact:
		return "exact"
	case AccountingPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("AccountingPolicy(%d)", int(p))
	}
}

// Skip reasons reported in Summary.SkipReason
const (
	SkipOffline  = "offline"
	SkipDraining = "already draining"
)

// Options tune a drain
type Options struct {
	// SubmitTimeout bounds a single submission, zero disables the bound
	SubmitTimeout time.Duration
	// GroupWorkers is how many record type groups are submitted at once
	GroupWorkers int
	Accounting   AccountingPolicy
	// Resolver defaults to LocalWins
	Resolver Resolver
}

// DefaultOptions returns one group at a time, exact accounting and a 30s submission bound
func DefaultOptions() Options {
	return Options{
		SubmitTimeout: 30 * time.Second,
		GroupWorkers:  1,
		Accounting:    AccountingExact,
	}
}

// Summary is the outcome of one drain
type Summary struct {
	Success     bool
	Skipped     bool
	SkipReason  string
	SyncedCount int
	// Errors holds one "<record_type>: <message>" entry per failed group
	Errors []string
	// Err is set when the drain could not run at all, e.g. the store failed
	Err error
}

// Message renders the summary for a human
func (s Summary) Message() string {
	switch {
	case s.Skipped:
		return "Sync skipped: " + s.SkipReason
	case s.Err != nil:
		return fmt.Sprintf("Sync failed: %v", s.Err)
	case len(s.Errors) > 0:
		return fmt.Sprintf("Synced %d forms with errors: %s", s.SyncedCount, strings.Join(s.Errors, ", "))
	case s.SyncedCount == 0:
		return "No pending forms to sync"
	default:
		return fmt.Sprintf("Successfully synced %d forms", s.SyncedCount)
	}
}

// Engine moves pending records to the remote authority. At most one drain runs
// at a time, the engine has no other state.
type Engine struct {
	queue    Queue
	gateway  Submitter
	status   StatusSource
	opts     Options
	draining atomic.Bool
}

// NewEngine creates an idle engine
func NewEngine(queue Queue, gateway Submitter, status StatusSource, opts Options) *Engine {
	if opts.GroupWorkers < 1 {
		opts.GroupWorkers = 1
	}
	if opts.Resolver == nil {
		opts.Resolver = LocalWins{}
	}
	return &Engine{queue: queue, gateway: gateway, status: status, opts: opts}
}

// IsDraining reports whether a drain is in flight
func (e *Engine) IsDraining() bool {
	return e.draining.Load()
}

// recordGroup is one record type's slice of the pending list, in FIFO order
type recordGroup struct {
	recordType model.RecordType
	records    []model.Record
}

type groupResult struct {
	succeeded []int64
	err       error
}

// Drain submits every pending record, grouped by record type. A failure aborts
// the rest of its group only. It returns immediately when offline or when
// another drain is running.
func (e *Engine) Drain(ctx context.Context) Summary {
	if !e.status.Online() {
		return Summary{Skipped: true, SkipReason: SkipOffline}
	}
	if !e.draining.CompareAndSwap(false, true) {
		return Summary{Skipped: true, SkipReason: SkipDraining}
	}
	defer e.draining.Store(false)

	logger := logrus.WithField("component", "sync").WithField("drain_id", uuid.NewString())
	ctx = log.WithLogger(ctx, logger)
	start := time.Now()

	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list pending records")
		return Summary{Err: err}
	}
	if len(pending) == 0 {
		logger.Debug("No pending records")
		return Summary{Success: true}
	}
	logger.WithField("count", len(pending)).Info("Draining pending records")

	groups := groupByType(pending)
	results := make([]groupResult, len(groups))

	var g errgroup.Group
	g.SetLimit(e.opts.GroupWorkers)
	for i, grp := range groups {
		g.Go(func() error {
			results[i] = e.submitGroup(ctx, grp)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Success: true}
	var succeeded []int64
	for i, res := range results {
		succeeded = append(succeeded, res.succeeded...)
		if res.err != nil {
			summary.Success = false
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", groups[i].recordType, res.err))
		}
	}
	summary.SyncedCount = len(succeeded)

	if ids := e.idsToMark(pending, succeeded); len(ids) > 0 {
		// submissions already reached the server, record them even if ctx is done
		if err := e.queue.MarkSynced(context.WithoutCancel(ctx), ids); err != nil {
			logger.WithError(err).Error("Failed to mark records synced")
			summary.Success = false
			summary.Err = err
		}
	}

	logger.WithFields(logrus.Fields{
		"synced":     summary.SyncedCount,
		"failed":     len(summary.Errors),
		"accounting": e.opts.Accounting.String(),
		"elapsed":    time.Since(start),
	}).Info(summary.Message())
	return summary
}

// submitGroup sends the group's records one after another and stops at the first failure
func (e *Engine) submitGroup(ctx context.Context, grp recordGroup) groupResult {
	logger := log.GetLogger(ctx).WithField("type", grp.recordType)
	var res groupResult
	for _, rec := range grp.records {
		if err := e.submit(ctx, rec); err != nil {
			logger.WithError(err).WithField("id", rec.ID).
				WithField("skipped", len(grp.records)-len(res.succeeded)-1).
				Warn("Submission failed, leaving rest of group pending")
			res.err = err
			return res
		}
		logger.WithField("id", rec.ID).Debug("Record submitted")
		res.succeeded = append(res.succeeded, rec.ID)
	}
	return res
}

func (e *Engine) submit(ctx context.Context, rec model.Record) error {
	if e.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SubmitTimeout)
		defer cancel()
	}
	return e.gateway.Create(ctx, rec.Payload)
}

func (e *Engine) idsToMark(pending []model.Record, succeeded []int64) []int64 {
	switch e.opts.Accounting {
	case AccountingPrefix:
		ids := make([]int64, 0, len(succeeded))
		for _, rec := range pending[:len(succeeded)] {
			ids = append(ids, rec.ID)
		}
		return ids
	default:
		return succeeded
	}
}

// groupByType partitions records by type. Groups appear in the order their
// first record appears and keep the global order internally.
func groupByType(records []model.Record) []recordGroup {
	index := make(map[model.RecordType]int)
	var groups []recordGroup
	for _, rec := range records {
		i, ok := index[rec.Type]
		if !ok {
			i = len(groups)
			index[rec.Type] = i
			groups = append(groups, recordGroup{recordType: rec.Type})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	return groups
}

// Resolve reconciles a local and a remote version of the same payload with the
// configured strategy. Drains never call it; it exists for callers that detect
// a conflict themselves.
func (e *Engine) Resolve(ctx context.Context, local, remote model.Payload) (model.Payload, error) {
	return e.opts.Resolver.Resolve(ctx, local, remote)
}
