// Package retry wraps go-retry with the backoff policies used when opening the
// local store.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/log"
)

// Policy describes an exponential backoff with a cap and jitter
type Policy struct {
	// Retries is the number of attempts after the first one
	Retries  uint64
	Base     time.Duration
	Cap      time.Duration
	JitterPc uint64
}

// RemoteStore is used for a PostgreSQL store that may still be starting up
func RemoteStore() Policy {
	return Policy{Retries: 10, Base: 100 * time.Millisecond, Cap: 30 * time.Second, JitterPc: 10}
}

// LocalFile is used for the on-device SQLite file. The only expected transient
// failure is another process holding the lock.
func LocalFile() Policy {
	return Policy{Retries: 5, Base: 50 * time.Millisecond, Cap: 2 * time.Second, JitterPc: 10}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth another attempt
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx is done. The returned error is never the Permanent wrapper.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	logger := log.GetLogger(ctx).WithField("operation", name)
	var attempt int
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Attempt failed, retrying")
		return retry.RetryableError(err)
	})
	if err != nil && attempt > 1 {
		logger.WithError(err).WithField("attempts", attempt).Error("Giving up")
	}
	return err
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithMaxRetries(p.Retries, b)
	b = retry.WithCappedDuration(p.Cap, b)
	return retry.WithJitterPercent(p.JitterPc, b)
}
