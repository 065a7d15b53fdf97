package contracts

import (
	"time"

	"github.com/google/uuid"
)

// CallState tracks the lifecycle of a reported call.
type CallState string

const (
	CallStatePending  CallState = "PENDING"
	CallStateReported CallState = "REPORTED"
	CallStateUpdated  CallState = "UPDATED"
	CallStateAnswered CallState = "ANSWERED"
	CallStateEnded    CallState = "ENDED"
	CallStateFailed   CallState = "FAILED"
)

// Terminal reports whether no further transition is accepted.
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// CallSession is one call attempt as presented to the host.
type CallSession struct {
	CallID      uuid.UUID `json:"call_id"`
	CallerID    string    `json:"caller_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	HasVideo    bool      `json:"has_video"`
	State       CallState `json:"state"`

	// Synthetic is set for calls reported only to satisfy the host policy
	// for a push that could not be turned into a real call.
	Synthetic bool `json:"synthetic,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Muted     bool      `json:"muted,omitempty"`
}

// HandleType is the kind of caller handle shown by the host.
type HandleType string

const HandleTypeGeneric HandleType = "generic"

// Handle identifies the remote party.
type Handle struct {
	Type  HandleType `json:"type"`
	Value string     `json:"value"`
}

// CallUpdate is the set of call details sent to the host.
type CallUpdate struct {
	RemoteHandle        Handle `json:"remote_handle"`
	LocalizedCallerName string `json:"localized_caller_name"`
	HasVideo            bool   `json:"has_video"`
	SupportsHolding     bool   `json:"supports_holding"`
	SupportsGrouping    bool   `json:"supports_grouping"`
	SupportsUngrouping  bool   `json:"supports_ungrouping"`
}

// EndReason is reported to the host when a call ends.
type EndReason string

const (
	EndReasonFailed            EndReason = "FAILED"
	EndReasonRemoteEnded       EndReason = "REMOTE_ENDED"
	EndReasonUnanswered        EndReason = "UNANSWERED"
	EndReasonAnsweredElsewhere EndReason = "ANSWERED_ELSEWHERE"
	EndReasonDeclinedElsewhere EndReason = "DECLINED_ELSEWHERE"
)
