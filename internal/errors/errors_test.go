package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"config is fatal", ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{"io is error", ErrCodeFileNotFound, CategoryIO, SeverityError, false},
		{"timeout is retryable", ErrCodeNetworkTimeout, CategoryNetwork, SeverityError, true},
		{"rate limit is retryable", ErrCodeRateLimited, CategoryNetwork, SeverityError, true},
		{"validation is permanent", ErrCodeInvalidInput, CategoryValidation, SeverityError, false},
		{"analysis is warning", ErrCodeClassUnresolvable, CategoryAnalysis, SeverityWarning, false},
		{"queue full is retryable", ErrCodeQueueFull, CategoryInternal, SeverityError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestLensError_UnwrapAndIs(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(ErrCodeEmbeddingFailed, fmt.Errorf("outer: %w", cause))

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, New(ErrCodeEmbeddingFailed, "other message", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodeInternal, "other", nil)))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.True(t, IsRetryable(New(ErrCodeNetworkTimeout, "t", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInvalidInput, "bad", nil)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	// Wrapped retryable survives errors.As.
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", TimeoutError("slow tool"))))
}

func TestRetryableFromStatus(t *testing.T) {
	assert.True(t, RetryableFromStatus(429))
	assert.True(t, RetryableFromStatus(500))
	assert.True(t, RetryableFromStatus(503))
	assert.False(t, RetryableFromStatus(400))
	assert.False(t, RetryableFromStatus(404))
	assert.False(t, RetryableFromStatus(200))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundError("no such method")))
	assert.False(t, IsNotFound(ValidationError("bad", nil)))
	assert.False(t, IsNotFound(nil))
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 2 {
			return New(ErrCodeNetworkTimeout, "transient", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_PermanentFailureReturnsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return ValidationError("bad input", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeInvalidInput, GetCode(err))
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return New(ErrCodeProviderOverloaded, "overloaded", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return New(ErrCodeNetworkTimeout, "never reached", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, New(ErrCodeRateLimited, "slow down", nil)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, attempts)
}

func TestDelay_ExponentialGrowthWithCap(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(7))
}

func TestDelay_JitterStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.25}
	for i := 0; i < 50; i++ {
		d := cfg.Delay(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
