package callsession

import (
	"errors"
	"fmt"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

var (
	ErrIllegalTransition = errors.New("callsession: illegal transition")
	ErrUnknownCall       = errors.New("callsession: unknown call")
)

var transitions = map[contracts.CallState][]contracts.CallState{
	contracts.CallStatePending:  {contracts.CallStateReported, contracts.CallStateFailed},
	contracts.CallStateReported: {contracts.CallStateUpdated, contracts.CallStateFailed, contracts.CallStateAnswered, contracts.CallStateEnded},
	contracts.CallStateUpdated:  {contracts.CallStateAnswered, contracts.CallStateEnded},
	contracts.CallStateAnswered: {contracts.CallStateEnded},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to contracts.CallState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(s *contracts.CallSession, to contracts.CallState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, to)
	}
	s.State = to
	return nil
}
