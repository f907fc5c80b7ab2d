package tdb_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"

	"github.com/localkv/tdb"
)

func TestShouldRetry(t *testing.T) {
	require.False(t, tdb.ShouldRetry(nil))
	require.False(t, tdb.ShouldRetry(context.Canceled))
	require.False(t, tdb.ShouldRetry(syscall.ENOSPC))
	require.False(t, tdb.ShouldRetry(syscall.EACCES))
	require.True(t, tdb.ShouldRetry(syscall.EAGAIN))
	require.True(t, tdb.ShouldRetry(syscall.EWOULDBLOCK))
	require.True(t, tdb.ShouldRetry(errors.New("transient gremlin")))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	// A task must wrap transient failures with retry.RetryableError itself
	// (the teacher's own Retry convention, kept here): an unwrapped error
	// is treated as terminal and stops the loop immediately.
	attempts := 0
	err := tdb.Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return retry.RetryableError(errors.New("not yet"))
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryGivesUpAndRunsGaveUpTask(t *testing.T) {
	gaveUp := false
	err := tdb.Retry(context.Background(), func(ctx context.Context) error {
		return retry.RetryableError(errors.New("always fails"))
	}, func(ctx context.Context) {
		gaveUp = true
	})
	require.Error(t, err)
	require.True(t, gaveUp)
}

func TestRetryStopsImmediatelyOnUnwrappedError(t *testing.T) {
	attempts := 0
	err := tdb.Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("permanent")
	}, nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestSleepRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	tdb.Sleep(ctx, time.Second)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}
