//go:build property
// +build property

package registration

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

var authStatuses = []contracts.AuthorizationStatus{
	contracts.AuthorizationUndetermined,
	contracts.AuthorizationAuthorized,
	contracts.AuthorizationDenied,
	contracts.AuthorizationProvisional,
}

// TestReconcileIdempotence verifies that a second pass after applying an
// action's effect is a no-op.
// Property: Reconcile(apply(s, Reconcile(s))) == None
func TestReconcileIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("reconcile after apply is a no-op", prop.ForAll(
		func(authIdx int, tokenID, push, voip string, hasRemote bool, ageHours int) bool {
			s := Snapshot{
				Auth:    authStatuses[authIdx],
				TokenID: tokenID,
				Tokens:  contracts.DeviceTokens{Push: push, VoIP: voip},
			}
			if hasRemote && tokenID != "" {
				s.Remote = remoteAt(contracts.DeviceTokens{Push: push, VoIP: "x" + voip},
					testNow.Add(-time.Duration(ageHours)*time.Hour))
			}
			p := testPolicy()
			next := apply(s, p.Reconcile(s), testNow)
			return p.Reconcile(next).Kind == ActionNone
		},
		gen.IntRange(0, len(authStatuses)-1),
		gen.OneGenOf(gen.Const(""), gen.Identifier()),
		gen.OneGenOf(gen.Const(""), gen.AlphaString()),
		gen.OneGenOf(gen.Const(""), gen.AlphaString()),
		gen.Bool(),
		gen.IntRange(0, 24*30),
	))

	properties.TestingRun(t)
}

// TestDenialClearsState verifies denial always removes an existing
// registration and leaves nothing behind.
func TestDenialClearsState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("denied with a token id deletes it", prop.ForAll(
		func(tokenID, push, voip string) bool {
			s := Snapshot{
				Auth:    contracts.AuthorizationDenied,
				TokenID: tokenID,
				Tokens:  contracts.DeviceTokens{Push: push, VoIP: voip},
				Remote:  remoteAt(contracts.DeviceTokens{Push: push, VoIP: voip}, testNow),
			}
			a := testPolicy().Reconcile(s)
			if a.Kind != ActionDelete || a.TokenID != tokenID {
				return false
			}
			next := apply(s, a, testNow)
			return next.TokenID == "" && next.Remote == nil
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestStalenessTriggersRefresh verifies the staleness threshold for
// records whose tokens match.
func TestStalenessTriggersRefresh(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("update iff age >= threshold", prop.ForAll(
		func(ageMinutes int) bool {
			age := time.Duration(ageMinutes) * time.Minute
			s := Snapshot{
				Auth:    contracts.AuthorizationAuthorized,
				TokenID: "T",
				Tokens:  bothTokens,
				Remote:  remoteAt(bothTokens, testNow.Add(-age)),
			}
			got := testPolicy().Reconcile(s).Kind
			if age >= DefaultStaleAfter {
				return got == ActionUpdate
			}
			return got == ActionNone
		},
		gen.IntRange(0, 2*7*24*60),
	))

	properties.TestingRun(t)
}
