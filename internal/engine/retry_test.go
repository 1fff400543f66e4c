package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Backoff: time.Millisecond, Multiplier: 2}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetryRunSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).run(context.Background(), quietLogger(), "store", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRunRetriesIOErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3).run(context.Background(), quietLogger(), "store", func() error {
		calls++
		if calls < 3 {
			return syncErr(CodeIO, "u", "", "flaky disk", errors.New("EIO"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryRunStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := fastPolicy(3).run(context.Background(), quietLogger(), "convert", func() error {
		calls++
		return syncErr(CodeParse, "u", "", "bad syntax", nil)
	})
	require.Error(t, err)
	assert.True(t, IsParseError(err))
	assert.Equal(t, 1, calls, "deterministic failures must not be retried")
}

func TestRetryRunExhaustsBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(3).run(context.Background(), quietLogger(), "write", func() error {
		calls++
		return syncErr(CodeIO, "u", "", "disk gone", nil)
	})
	require.Error(t, err)
	assert.True(t, IsIOError(err))
	assert.Equal(t, 3, calls)
}

func TestRetryRunPlainErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(3).run(context.Background(), quietLogger(), "store", func() error {
		calls++
		return errors.New("unclassified")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRunContextAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{Attempts: 3, Backoff: 10 * time.Second, Multiplier: 2}

	start := time.Now()
	err := policy.run(ctx, quietLogger(), "store", func() error {
		calls++
		cancel()
		return syncErr(CodeIO, "u", "", "flaky", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the backoff short")
}

func TestRetryPolicyNormalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	assert.Equal(t, DefaultRetryPolicy(), p)

	p = RetryPolicy{Attempts: 5}.normalized()
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, DefaultRetryBackoff, p.Backoff)
	assert.Equal(t, DefaultRetryMultiplier, p.Multiplier)
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.Backoff)
	assert.Equal(t, 2.0, p.Multiplier)
}
