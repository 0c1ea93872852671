package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultRetryAttempts is how many times a transient storage failure is tried
const DefaultRetryAttempts = 12

// ErrAttemptTimeout is returned when a single attempt exceeds its timeout
var ErrAttemptTimeout = errors.New("attempt timed out")

// RetryConfig bounds a retry loop
type RetryConfig struct {
	Attempts        uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout applies to every attempt, zero disables it
	Timeout time.Duration
	// NewBackOff replaces the exponential policy
	NewBackOff func() backoff.BackOff
}

// DefaultRetryConfig is used for storage calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:        DefaultRetryAttempts,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Timeout:         30 * time.Second,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if c.NewBackOff != nil {
		b = c.NewBackOff()
	} else {
		bo := backoff.NewExponentialBackOff()
		if c.InitialInterval > 0 {
			bo.InitialInterval = c.InitialInterval
		}
		if c.MaxInterval > 0 {
			bo.MaxInterval = c.MaxInterval
		}
		bo.MaxElapsedTime = 0 // bounded by attempts
		b = bo
	}
	attempts := c.Attempts
	if attempts == 0 {
		attempts = DefaultRetryAttempts
	}
	if attempts == 1 {
		// WithMaxRetries treats zero as unlimited
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx)
}

// Retry runs op until it succeeds, fails with an error retryable rejects, the
// attempts are exhausted or ctx is done. The last error is returned as is.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, op func(ctx context.Context) error, notify backoff.Notify) error {
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attemptCtx := ctx
		cancel := func() {}
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		err := op(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		switch {
		case err == nil:
			return nil
		case timedOut:
			return fmt.Errorf("%w: %v", ErrAttemptTimeout, err)
		case !retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(operation, cfg.backOff(ctx), notify)
}
