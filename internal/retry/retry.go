// Package retry runs an operation a bounded number of times with backoff.
// Only errors marked with Retryable are retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // total attempts, including the first; < 1 means 1
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on a single wait; 0 means no cap
	Multiplier  float64       // growth per attempt; <= 1 keeps the wait constant
	Jitter      float64       // fraction of the wait randomized in both directions (0-1)

	// Clock drives the waits. Nil uses the real clock.
	Clock clockwork.Clock
	// OnRetry, if set, is called before each wait with the attempt that just
	// failed (1-based) and its error.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns the upload retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Error marks an error as retryable.
type Error struct {
	Err error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err so that Do retries it. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, was marked with
// Retryable.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The returned error is fn's last error, unwrapped
// from its retry marker.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := max(cfg.MaxAttempts, 1)

	var zero T
	for attempt := 1; ; attempt++ {
		r, err := fn(ctx)
		if err == nil {
			return r, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		if attempt >= attempts {
			return zero, unmark(err)
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		wait := cfg.backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, unmark(err), wait)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-clock.After(wait):
		}
	}
}

func (cfg Config) backoff(attempt int) time.Duration {
	wait := float64(cfg.InitialWait)
	if cfg.Multiplier > 1 {
		wait *= math.Pow(cfg.Multiplier, float64(attempt-1))
	}
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter needs no crypto
	}
	return time.Duration(wait)
}

// unmark strips the outermost retry marker so callers see the underlying
// error type.
func unmark(err error) error {
	var re *Error
	if errors.As(err, &re) && err == error(re) {
		return re.Err
	}
	return err
}
