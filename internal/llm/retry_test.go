package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), Config{Retries: 3}, time.Millisecond, "TEST",
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("flaky")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	_, err := Retry(context.Background(), Config{Retries: 4, Backoff: time.Millisecond}, 2*time.Millisecond, "TEST",
		func(context.Context) (int, error) {
			calls++
			return 0, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Config{Retries: 5, Backoff: time.Hour}, time.Hour, "TEST",
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errors.New("down")
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_WaitsBetweenAttempts(t *testing.T) {
	start := time.Now()
	calls := 0
	_, err := Retry(context.Background(), Config{Retries: 3, Backoff: 20 * time.Millisecond}, time.Second, "TEST",
		func(context.Context) (int, error) {
			calls++
			return 0, errors.New("down")
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	// 20ms then 40ms
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
