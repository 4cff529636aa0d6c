package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return NewRetryableError(errors.New("connection reset"))
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		delays = append(delays, next)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("timeout")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) error {
		calls++
		return NewFatalError(errors.New("payload rejected"))
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "payload rejected")
}

func TestDo_ContextCanceledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy()
	policy.InitialInterval = time.Hour
	policy.MaxInterval = time.Hour

	attempts, err := Do(ctx, policy, func(ctx context.Context, attempt int) error {
		return errors.New("unavailable")
	}, func(int, error, time.Duration) { cancel() })

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("x"), want: true},
		{name: "retryable", err: NewRetryableError(errors.New("x")), want: true},
		{name: "fatal", err: NewFatalError(errors.New("x")), want: false},
		{name: "fatal wrapping retryable", err: NewFatalError(NewRetryableError(errors.New("x"))), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestSchedule_DefaultPolicy(t *testing.T) {
	assert.Equal(t,
		[]time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		Schedule(DefaultPolicy()),
	)
}
