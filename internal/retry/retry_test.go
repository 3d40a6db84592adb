package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(retries uint64) Policy {
	return Policy{Retries: retries, Base: time.Millisecond, Cap: 5 * time.Millisecond}
}

func TestPolicies(t *testing.T) {
	remote, local := RemoteStore(), LocalFile()
	assert.Equal(t, uint64(10), remote.Retries)
	assert.Equal(t, 30*time.Second, remote.Cap)
	assert.Equal(t, uint64(5), local.Retries)
	assert.Equal(t, 50*time.Millisecond, local.Base)
	assert.Less(t, local.Cap, remote.Cap)
}

func TestDoFirstAttempt(t *testing.T) {
	calls := 0
	err := fast(3).Do(context.Background(), "noop", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversFromLock(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), "sqlite open", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := fast(3).Do(context.Background(), "connect", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	assert.ErrorContains(t, err, "connection refused")
	// first attempt plus three retries
	assert.Equal(t, 4, calls)
}

func TestDoPermanent(t *testing.T) {
	authErr := errors.New("password authentication failed")
	calls := 0
	err := fast(5).Do(context.Background(), "connect", func(context.Context) error {
		calls++
		return Permanent(authErr)
	})
	assert.Equal(t, authErr, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Retries: 10, Base: 50 * time.Millisecond, Cap: time.Second}.Do(ctx, "connect", func(context.Context) error {
		calls++
		cancel()
		return errors.New("unreachable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
