package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Exponential(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 30000, MaxAttempts: 5}
	p := Params{Operation: "insertOrUpdate", Key: "tok-1"}

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		p.Attempt = i
		assert.Equal(t, w, Backoff(p, policy), "attempt %d", i)
	}
}

func TestBackoff_Capped(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 1000}
	assert.Equal(t, time.Second, Backoff(Params{Attempt: 40}, policy))
}

func TestJitter_Deterministic(t *testing.T) {
	policy := Policy{MaxJitterMs: 1000}
	p := Params{Operation: "delete", Key: "tok-1", Attempt: 2}

	j1 := Jitter(p, policy)
	assert.Equal(t, j1, Jitter(p, policy))
	assert.GreaterOrEqual(t, j1, int64(0))
	assert.Less(t, j1, int64(1000))
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Params{}, Policy{MaxAttempts: 5}, noSleep,
		func(err error) bool { return !errors.Is(err, permanent) },
		func(context.Context) error {
			calls++
			return permanent
		})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	calls := 0
	err := Do(context.Background(), Params{}, Policy{BaseMs: 10, MaxMs: 100, MaxAttempts: 3}, sleep,
		func(error) bool { return true },
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("unavailable")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Params{}, Policy{MaxAttempts: 3}, nil, func(error) bool { return true },
		func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func noSleep(context.Context, time.Duration) error { return nil }
