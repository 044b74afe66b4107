// Package retry runs operations with pure exponential backoff: the wait before
// attempt n+1 is BaseDelay * 2^(n-1).
package retry

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Defaults used by provider network calls and orchestrator-level operations.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	// Database connection acquisition uses a short fixed base.
	DBMaxRetries = 3
	DBBaseDelay  = 100 * time.Millisecond
)

// Options configures one retried operation.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(err error, attempt int, wait time.Duration)
	// Retryable decides whether a failure may be retried. Nil retries everything.
	Retryable func(error) bool
}

// Run calls op up to MaxRetries+1 times. Exhausting retries returns the last error unchanged.
func Run(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// Do is Run for operations that produce a value.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && opts.Retryable != nil && !opts.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, policy(ctx, opts), func(err error, wait time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt, wait)
		}
	})
}

func policy(ctx context.Context, opts Options) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.MaxInterval = opts.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = 24 * time.Hour
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(opts.MaxRetries)), ctx)
}
