package transform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(backend Backend) *RetryingClient {
	return &RetryingClient{
		Backend:     backend,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryingClientSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := fastClient(BackendFunc(func(ctx context.Context, text string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "ok:" + text, nil
	}))

	out, err := client.Transform(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok:hello", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryingClientExhausted(t *testing.T) {
	t.Parallel()

	cause := errors.New("503 from backend")
	var calls atomic.Int32
	client := fastClient(BackendFunc(func(ctx context.Context, text string) (string, error) {
		calls.Add(1)
		return "", cause
	}))

	_, err := client.Transform(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransformUnavailable)
	assert.ErrorIs(t, err, cause)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryingClientPermanentNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := fastClient(BackendFunc(func(ctx context.Context, text string) (string, error) {
		calls.Add(1)
		return "", Permanent(errors.New("malformed input"))
	}))

	_, err := client.Transform(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.NotErrorIs(t, err, ErrTransformUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryingClientBlankInput(t *testing.T) {
	t.Parallel()

	client := fastClient(BackendFunc(func(ctx context.Context, text string) (string, error) {
		t.Fatal("backend must not be called for blank input")
		return "", nil
	}))

	out, err := client.Transform(context.Background(), "  \n\t ")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRetryingClientStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := &RetryingClient{
		Backend: BackendFunc(func(ctx context.Context, text string) (string, error) {
			cancel()
			return "", errors.New("timeout")
		}),
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
	}

	_, err := client.Transform(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	c := &RetryingClient{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 3*time.Second, c.backoff(3))
	assert.Equal(t, 3*time.Second, c.backoff(40))
}
