package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), nil, func() error {
		attempts++
		return nil
	})

	if result.Attempts != 1 || attempts != 1 {
		t.Errorf("expected exactly one attempt, got %d (%d calls)", result.Attempts, attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastError != nil {
		t.Errorf("expected no error, got %v", result.LastError)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	cause := errors.New("rpc unavailable")
	result := Retry(context.Background(), fastConfig(2), func() error {
		return cause
	})

	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", result.Attempts)
	}
	if !errors.Is(result.LastError, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", result.LastError)
	}
	if !errors.Is(result.LastError, cause) {
		t.Errorf("expected cause to be preserved, got %v", result.LastError)
	}
}

func TestRetry_NoRetry(t *testing.T) {
	cause := errors.New("boom")
	result := Retry(context.Background(), NoRetry(), func() error {
		return cause
	})

	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if result.LastError != cause {
		t.Errorf("expected raw cause, got %v", result.LastError)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	result := Retry(context.Background(), fastConfig(5), func() error {
		attempts++
		return MarkNonRetryable(errors.New("invalid api key"))
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if !IsNonRetryable(result.LastError) {
		t.Errorf("expected non-retryable error, got %v", result.LastError)
	}
}

func TestRetry_RetryIfFilter(t *testing.T) {
	permanent := errors.New("permanent")
	config := fastConfig(5)
	config.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }

	attempts := 0
	Retry(context.Background(), config, func() error {
		attempts++
		return permanent
	})

	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &RetryConfig{MaxRetries: -1, BaseDelay: 50 * time.Millisecond}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Retry(ctx, config, func() error {
		return errors.New("still failing")
	})

	if !errors.Is(result.LastError, ErrContextCanceled) {
		t.Errorf("expected ErrContextCanceled, got %v", result.LastError)
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.LastError)
	}
}

func TestRetryWithValue(t *testing.T) {
	attempts := 0
	val, result := RetryWithValue(context.Background(), fastConfig(3), func() (uint64, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("eof")
		}
		return 11155111, nil
	})

	if val != 11155111 {
		t.Errorf("expected 11155111, got %d", val)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := &RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := calculateDelay(config, tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateDelay_Jitter(t *testing.T) {
	config := &RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, Jitter: 0.5}

	for i := 0; i < 50; i++ {
		d := calculateDelay(config, 1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms]", d)
		}
	}
}

func TestMarkNonRetryable_Nil(t *testing.T) {
	if MarkNonRetryable(nil) != nil {
		t.Error("MarkNonRetryable(nil) should be nil")
	}
}
