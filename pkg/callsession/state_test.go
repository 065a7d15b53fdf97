package callsession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to contracts.CallState
		want     bool
	}{
		{contracts.CallStatePending, contracts.CallStateReported, true},
		{contracts.CallStatePending, contracts.CallStateFailed, true},
		{contracts.CallStatePending, contracts.CallStateUpdated, false},
		{contracts.CallStateReported, contracts.CallStateUpdated, true},
		{contracts.CallStateReported, contracts.CallStateFailed, true},
		{contracts.CallStateUpdated, contracts.CallStateAnswered, true},
		{contracts.CallStateUpdated, contracts.CallStateFailed, false},
		{contracts.CallStateAnswered, contracts.CallStateEnded, true},
		{contracts.CallStateAnswered, contracts.CallStateUpdated, false},
		{contracts.CallStateEnded, contracts.CallStateAnswered, false},
		{contracts.CallStateFailed, contracts.CallStateReported, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_RejectedLeavesState(t *testing.T) {
	s := &contracts.CallSession{State: contracts.CallStateEnded}
	err := transition(s, contracts.CallStateAnswered)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, contracts.CallStateEnded, s.State)
}

func TestQueue_SerializesAndCloses(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	counter := 0
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			_ = q.Do(ctx, func() { counter++ })
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	require.NoError(t, q.Do(ctx, func() {}))
	assert.Equal(t, 50, counter)

	q.Close()
	assert.ErrorIs(t, q.Do(ctx, func() {}), ErrQueueClosed)
}
