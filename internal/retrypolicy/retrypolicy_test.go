package retrypolicy

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"structured timeout", syscall.ETIMEDOUT, true},
		{"structured conn reset", syscall.ECONNRESET, true},
		{"message timed out", errors.New("request timed out"), true},
		{"message empty response", errors.New("empty response from model"), true},
		{"message econnreset", errors.New("ECONNRESET from socket"), true},
		{"message invalid token", errors.New("invalid token supplied"), false},
		{"message unauthorized", errors.New("401 unauthorized"), false},
		{"unknown message", errors.New("something exploded"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryable_NonRetryableTakesPrecedence(t *testing.T) {
	// A message matching both lists should resolve non-retryable since
	// the non-retryable check runs first.
	err := errors.New("timed out: unauthorized")
	require.False(t, IsRetryable(err))
}

// TestRetryWithBackoff_ScenarioTwo covers a reviewer that throws "timed
// out" on attempt 1 and succeeds on attempt 2 with maxRetries=1: exactly
// 2 calls to fn, and OnRetry fires once.
func TestRetryWithBackoff_ScenarioTwo(t *testing.T) {
	calls := 0
	onRetryCalls := 0

	result, err := RetryWithBackoff(context.Background(), Options{
		MaxRetries:  1,
		Label:       "reviewerA",
		BackoffBase: time.Millisecond,
		OnRetry: func(ctx context.Context, attempt int) error {
			onRetryCalls++
			return nil
		},
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timed out")
		}
		return "fine", nil
	})

	require.NoError(t, err)
	require.Equal(t, "fine", result)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, onRetryCalls)
}

func TestRetryWithBackoff_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), Options{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", errors.New("unauthorized")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_OnRetryFailureAbortsRetries(t *testing.T) {
	calls := 0
	onRetryErr := errors.New("respawn failed")

	_, err := RetryWithBackoff(context.Background(), Options{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		OnRetry: func(ctx context.Context, attempt int) error {
			return onRetryErr
		},
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", errors.New("timed out")
	})

	require.ErrorIs(t, err, onRetryErr)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ExhaustsMaxRetries(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), Options{
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
	}, func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "", errors.New("timed out")
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestSanitizeErrorMessage_PreservesCanonicalUUID(t *testing.T) {
	uuid := "550e8400-e29b-41d4-a716-446655440000"
	got := SanitizeErrorMessage("review " + uuid + " failed")
	require.Contains(t, got, uuid)
}

func TestSanitizeErrorMessage_RedactsSecretRuns(t *testing.T) {
	got := SanitizeErrorMessage("token ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789abcd was rejected")
	require.NotContains(t, got, "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789abcd")
	require.Contains(t, got, "[REDACTED]")
}

func TestSanitizeErrorMessage_RedactsKnownPrefixes(t *testing.T) {
	got := SanitizeErrorMessage("bad key sk-abcdef1234567890")
	require.NotContains(t, got, "sk-abcdef1234567890")
	require.Contains(t, got, "[REDACTED]")
}

func TestSanitizeErrorMessage_Idempotent(t *testing.T) {
	msg := "token sk-abcdef1234567890abcd failed with hex deadbeefdeadbeefdeadbeefdeadbeef00"
	once := SanitizeErrorMessage(msg)
	twice := SanitizeErrorMessage(once)
	require.Equal(t, once, twice)
}

func TestSanitizeErrorMessage_Nil(t *testing.T) {
	require.Equal(t, "", SanitizeErrorMessage(nil))
}
