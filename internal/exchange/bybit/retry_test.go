package bybit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), "op", func() error {
		calls++
		if calls < 3 {
			return NewAPIError(ErrCodeRateLimitExceeded, "slow down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), "op", func() error {
		calls++
		return NewAPIError(ErrCodeInvalidAPIKey, "bad key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "auth errors are not retried")
	assert.True(t, IsAuthError(err))
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), "op", func() error {
		calls++
		return NewAPIError(ErrCodeRateLimitExceeded, "slow down")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(), "op", func() error {
		return NewAPIError(ErrCodeRateLimitExceeded, "slow down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError(ErrCodeRateLimitExceeded, "")))
	assert.True(t, IsRetryable(NewAPIError(500, "")))
	assert.True(t, IsRetryable(errors.New("connection reset")), "transport errors are transient")
	assert.False(t, IsRetryable(NewAPIError(ErrCodeInsufficientBalance, "")))
	assert.False(t, IsRetryable(nil))
}

func TestParseRet(t *testing.T) {
	assert.NoError(t, ParseRet("op", 0, "OK"))
	err := ParseRet("op", 10006, "rate limit")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 10006, apiErr.Code)
}
