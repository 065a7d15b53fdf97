package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("functions", 2, 10*time.Second).WithClock(func() time.Time { return now })

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	require.ErrorIs(t, cb.Execute(context.Background(), nil, fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(context.Background(), nil, fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), nil, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("functions", 1, 10*time.Second).WithClock(func() time.Time { return now })
	cb.Failure()
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow(), "only one probe while half-open")

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(11 * time.Second)
	require.True(t, cb.Allow())
	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_NonCountableErrors(t *testing.T) {
	cb := NewCircuitBreaker("functions", 1, time.Minute)
	invalid := errors.New("invalid argument")
	err := cb.Execute(context.Background(), func(err error) bool { return !errors.Is(err, invalid) },
		func(context.Context) error { return invalid })
	require.ErrorIs(t, err, invalid)
	assert.Equal(t, StateClosed, cb.State())
}
