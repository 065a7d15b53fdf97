// Package registration keeps this device's push/VoIP registration in sync
// with the backend record.
//
// Reconcile is a pure decision over a Snapshot. Reconciler is the driver:
// it gathers snapshots from the authorization, identity and device-token
// signals plus the backend record subscription, and carries out the
// resulting Action.
package registration

import (
	"time"

	"github.com/google/uuid"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

// DefaultStaleAfter is the age after which an unchanged record is
// re-uploaded.
const DefaultStaleAfter = 7 * 24 * time.Hour

type ActionKind string

const (
	ActionNone   ActionKind = "NONE"
	ActionCreate ActionKind = "CREATE"
	ActionUpdate ActionKind = "UPDATE"
	ActionDelete ActionKind = "DELETE"
)

// Action is the outcome of one reconciliation pass.
type Action struct {
	Kind    ActionKind
	TokenID string
	Tokens  contracts.DeviceTokens
}

// Snapshot is everything a pass decides on.
type Snapshot struct {
	Auth    contracts.AuthorizationStatus
	TokenID string
	Tokens  contracts.DeviceTokens
	// Remote is the backend record for TokenID, nil when none exists.
	Remote *contracts.RegistrationRecord
	// RemotePending is set until the first backend snapshot for TokenID
	// has arrived. Remote is meaningless while it is set.
	RemotePending bool
}

// Policy carries the injected clock and id minter.
type Policy struct {
	StaleAfter time.Duration
	Now        func() time.Time
	NewTokenID func() string
}

// DefaultPolicy uses the wall clock and random UUIDs.
func DefaultPolicy() Policy {
	return Policy{
		StaleAfter: DefaultStaleAfter,
		Now:        time.Now,
		NewTokenID: uuid.NewString,
	}
}

// Reconcile decides the next action for s.
func (p Policy) Reconcile(s Snapshot) Action {
	switch {
	case s.Auth == contracts.AuthorizationDenied:
		if s.TokenID != "" {
			return Action{Kind: ActionDelete, TokenID: s.TokenID}
		}
		return Action{Kind: ActionNone}

	case s.Auth.Granted():
		if s.TokenID == "" {
			return Action{Kind: ActionCreate, TokenID: p.NewTokenID(), Tokens: s.Tokens}
		}
		if !s.Tokens.Complete() || s.RemotePending {
			return Action{Kind: ActionNone, TokenID: s.TokenID}
		}
		if p.needsUpload(s.Remote, s.Tokens) {
			return Action{Kind: ActionUpdate, TokenID: s.TokenID, Tokens: s.Tokens}
		}
		return Action{Kind: ActionNone, TokenID: s.TokenID}

	default:
		return Action{Kind: ActionNone, TokenID: s.TokenID}
	}
}

func (p Policy) needsUpload(remote *contracts.RegistrationRecord, tokens contracts.DeviceTokens) bool {
	if remote == nil || !remote.Matches(tokens) {
		return true
	}
	threshold := p.Now().Add(-p.StaleAfter)
	return !remote.ModificationDate.After(threshold)
}
