package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastRetryPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("throttled, slow down")
		}
		return nil
	}, IsTransientError)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_PermanentErrorFailsImmediately(t *testing.T) {
	attempts := 0
	permanent := errors.New("no such resource")
	err := RetryWithBackoff(context.Background(), fastRetryPolicy(), func() error {
		attempts++
		return permanent
	}, IsTransientError)

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastRetryPolicy(), func() error {
		attempts++
		return errors.New("connection reset by peer")
	}, IsTransientError)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 4, attempts)
}

func TestRetryWithBackoff_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Minute,
		MaxDelay:   time.Minute,
	}

	attempts := 0
	timer := time.AfterFunc(10*time.Millisecond, cancel)
	defer timer.Stop()

	err := RetryWithBackoff(ctx, policy, func() error {
		attempts++
		return errors.New("service unavailable")
	}, IsTransientError)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"throttling api code", &smithy.GenericAPIError{Code: "Throttling", Message: "rate"}, true},
		{"request limit api code", &smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: "limit"}, true},
		{"permanent api code", &smithy.GenericAPIError{Code: "InvalidParameterValue", Message: "bad"}, false},
		{"connection reset message", errors.New("read tcp: connection reset by peer"), true},
		{"io timeout message", errors.New("dial tcp: i/o timeout"), true},
		{"plain failure", errors.New("no such bucket"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransientError(tc.err))
		})
	}
}

func TestCalculateBackoff_Bounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, time.Second, 5*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}
