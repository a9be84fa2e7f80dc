package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry is the backoff envelope applied around retryable vendor calls.
type Retry struct {
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration
	MaxAttempts         uint
}

// DefaultRetry returns the standard envelope: four attempts starting
// at 500ms, doubling with 20% jitter, capped at 30s elapsed.
func DefaultRetry() Retry {
	return Retry{
		InitialInterval:     500 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxElapsedTime:      30 * time.Second,
		MaxAttempts:         4,
	}
}

// Do runs fn under the retry envelope. Only errors reporting
// IsRetryable are retried; everything else returns immediately.
func Do[T any](ctx context.Context, logger *slog.Logger, r Retry, op string, fn func(context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.InitialInterval
	policy.Multiplier = r.Multiplier
	policy.RandomizationFactor = r.RandomizationFactor
	policy.MaxElapsedTime = r.MaxElapsedTime
	policy.Reset()

	var b backoff.BackOff = policy
	if r.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(policy, uint64(r.MaxAttempts-1))
	}

	operation := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}

		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying after transient vendor failure",
			"op", op,
			"wait", wait,
			"error", err)
	}

	return backoff.RetryNotifyWithData(operation, backoff.WithContext(b, ctx), notify)
}
