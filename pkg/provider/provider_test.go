package provider_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webtosite/webtosite/pkg/provider"
)

func TestFromStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		kind      provider.ErrorKind
		retryable bool
	}{
		{status: 401, kind: provider.KindAuth, retryable: false},
		{status: 403, kind: provider.KindAuth, retryable: false},
		{status: 402, kind: provider.KindQuotaExceeded, retryable: false},
		{status: 404, kind: provider.KindNotFound, retryable: false},
		{status: 408, kind: provider.KindTimeout, retryable: true},
		{status: 409, kind: provider.KindConflict, retryable: false},
		{status: 429, kind: provider.KindRateLimited, retryable: true},
		{status: 422, kind: provider.KindUpstreamInvalid, retryable: false},
		{status: 500, kind: provider.KindUpstreamFailure, retryable: true},
		{status: 503, kind: provider.KindUpstreamFailure, retryable: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			t.Parallel()

			err := provider.FromStatus("vendor", tt.status, "boom")
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "boom", err.VendorMessage)
		})
	}
}

func TestFromTransport(t *testing.T) {
	t.Parallel()

	canceled := provider.FromTransport("vendor", context.Canceled)
	assert.Equal(t, provider.KindCanceled, canceled.Kind)
	assert.False(t, canceled.Retryable)

	deadline := provider.FromTransport("vendor", context.DeadlineExceeded)
	assert.Equal(t, provider.KindTimeout, deadline.Kind)
	assert.True(t, deadline.Retryable)

	refused := provider.FromTransport("vendor", errors.New("connection refused"))
	assert.Equal(t, provider.KindNetwork, refused.Kind)
	assert.True(t, refused.Retryable)
}

func TestIsKind_WrappedError(t *testing.T) {
	t.Parallel()

	inner := provider.NewError("cloudflare", provider.KindRateLimited, 429, "slow down")
	wrapped := fmt.Errorf("creating zone: %w", inner)

	assert.True(t, provider.IsKind(wrapped, provider.KindRateLimited))
	assert.False(t, provider.IsKind(wrapped, provider.KindAuth))
	assert.True(t, provider.IsRetryable(wrapped))
	assert.False(t, provider.IsRetryable(errors.New("plain")))
}

func fastRetry(attempts uint) provider.Retry {
	return provider.Retry{
		InitialInterval:     time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxElapsedTime:      5 * time.Second,
		MaxAttempts:         attempts,
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := provider.Do(context.Background(), slog.Default(), fastRetry(4), "check",
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", provider.NewError("vendor", provider.KindUpstreamFailure, 500, "flaky")
			}

			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryNonRetryable(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := provider.Do(context.Background(), slog.Default(), fastRetry(4), "check",
		func(context.Context) (string, error) {
			calls++

			return "", provider.NewError("vendor", provider.KindAuth, 401, "bad key")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, provider.IsKind(err, provider.KindAuth))
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := provider.Do(context.Background(), slog.Default(), fastRetry(4), "check",
		func(context.Context) (string, error) {
			calls++

			return "", provider.NewError("vendor", provider.KindTimeout, 0, "still down")
		})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.True(t, provider.IsKind(err, provider.KindTimeout))
}

func TestDo_HonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := provider.Do(ctx, slog.Default(), fastRetry(10), "check",
		func(context.Context) (string, error) {
			calls++
			cancel()

			return "", provider.NewError("vendor", provider.KindNetwork, 0, "offline")
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}
