package secrets

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig bounds how hard the adapter tries before surfacing
// ErrBackendUnavailable. Security-sensitive paths are never retried
// indefinitely.
type RetryConfig struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultRetryConfig returns the default retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		BaseWait: 100 * time.Millisecond,
		MaxWait:  2 * time.Second,
	}
}

// withRetry runs fn with bounded exponential backoff and jitter.
// Domain errors (missing secret, denied access) abort immediately;
// only transport failures are retried. Exhaustion surfaces as
// ErrBackendUnavailable.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			wait := cfg.BaseWait * time.Duration(1<<uint(attempt-1))
			if wait > cfg.MaxWait {
				wait = cfg.MaxWait
			}
			// Jitter up to half the wait to avoid thundering herds.
			wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) {
			return err
		}
		lastErr = err
	}

	return errors.Join(ErrBackendUnavailable, lastErr)
}
