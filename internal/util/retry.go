package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry with exponential backoff.
// Retries are only used for idempotent reads and dials; user-visible
// transactions are never retried automatically.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries, -1 = unlimited)
	MaxRetries int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// Multiplier is the backoff factor (default: 2.0)
	Multiplier float64
	// Jitter randomizes delays by +/- this fraction (0.0 - 1.0)
	Jitter float64
	// RetryIf decides whether an error is worth another attempt; nil retries everything
	// that is not marked non-retryable.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns sensible defaults for RPC dials and metadata reads
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NoRetry runs the operation exactly once.
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 0}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

// ErrMaxRetriesExceeded is joined with the last error when attempts run out
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is joined with the context error when waiting is interrupted
var ErrContextCanceled = errors.New("context canceled during retry")

// Retry executes fn with exponential backoff.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) *RetryResult {
	_, result := RetryWithValue(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return result
}

// RetryWithValue executes fn with exponential backoff and returns its value on success.
func RetryWithValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()
	finish := func(err error) (T, *RetryResult) {
		result.LastError = err
		result.Duration = time.Since(start)
		return zero, result
	}

	for {
		result.Attempts++

		val, err := fn()
		if err == nil {
			result.LastError = nil
			result.Duration = time.Since(start)
			return val, result
		}

		if IsNonRetryable(err) || (config.RetryIf != nil && !config.RetryIf(err)) {
			return finish(err)
		}
		if config.MaxRetries >= 0 && result.Attempts > config.MaxRetries {
			if config.MaxRetries == 0 {
				return finish(err)
			}
			return finish(errors.Join(ErrMaxRetriesExceeded, err))
		}

		timer := time.NewTimer(calculateDelay(config, result.Attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(errors.Join(ErrContextCanceled, ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), jittered and clamped to MaxDelay.
func calculateDelay(config *RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if config.Jitter > 0 {
		spread := delay * config.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}

	if config.MaxDelay > 0 && time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

// NonRetryableError marks an error that must not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// MarkNonRetryable marks err as permanent.
func MarkNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}
