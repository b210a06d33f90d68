package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryUntilFirstTrySuccess(t *testing.T) {
	calls := 0
	err := RetryUntil(context.Background(), time.Second, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryUntilEventualSuccess(t *testing.T) {
	calls := 0
	err := RetryUntil(context.Background(), time.Second, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryUntilTimeout(t *testing.T) {
	cause := errors.New("still broken")
	err := RetryUntil(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func() error {
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "still broken")
}

func TestRetryUntilRunsOnceWithZeroTimeout(t *testing.T) {
	calls := 0
	err := RetryUntil(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryUntilHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryUntil(ctx, time.Minute, time.Millisecond, func() error {
		return errors.New("keep trying")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
