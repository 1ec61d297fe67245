package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) *Policy {
	return &Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	err := p.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestExecuteExhausted(t *testing.T) {
	boom := errors.New("refused")
	err := fastPolicy(2).Execute(context.Background(), func() error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
}

func TestSingleAttemptReturnsErrorUnchanged(t *testing.T) {
	boom := errors.New("refused")
	err := None().Execute(context.Background(), func() error { return boom })
	assert.Same(t, boom, err)
}

func TestExecuteWithConditionStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("bad password")
	err := fastPolicy(5).ExecuteWithCondition(context.Background(), func() error {
		calls++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })

	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Policy{MaxAttempts: 3, InitialDelay: time.Hour, Multiplier: 1}

	err := p.Execute(ctx, func() error {
		cancel()
		return errors.New("refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayIsCapped(t *testing.T) {
	p := &Policy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 3*time.Second, p.Delay(5))
}
