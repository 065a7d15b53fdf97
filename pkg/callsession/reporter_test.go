package callsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/notification"
)

const aliceCallID = "11111111-1111-1111-1111-111111111111"

func alice() contracts.IncomingCall {
	return contracts.IncomingCall{CallID: aliceCallID, CallerID: "alice", DisplayName: "Alice"}
}

func newReporter(t *testing.T, p Provider, opts ...Option) *Reporter {
	t.Helper()
	d, err := notification.NewDecryptor()
	require.NoError(t, err)
	r := NewReporter(p, d, opts...)
	t.Cleanup(r.Close)
	return r
}

func callPush(t *testing.T, body any) contracts.RawPush {
	t.Helper()
	push, err := notification.BuildEnvelope(contracts.CategoryPrefix+contracts.CategoryUserCallReceived, body, nil)
	require.NoError(t, err)
	return push
}

// assertOnePushOneOutcome checks that id saw exactly one new-call report and
// exactly one follow-up (update or end).
func assertOnePushOneOutcome(t *testing.T, p *RecordingProvider, id uuid.UUID) {
	t.Helper()
	assert.Equal(t, 1, p.Count(ReportNew, id), "new-call reports")
	assert.Equal(t, 1, p.Count(ReportUpdated, id)+p.Count(ReportEnded, id), "follow-up reports")
}

func TestReporter_WellFormedCall(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{}
	r := newReporter(t, p)

	out := r.HandlePush(ctx, callPush(t, alice()))
	assert.Equal(t, contracts.CallStateReported, out.State)
	assert.False(t, out.Synthetic)
	r.Wait()

	id := uuid.MustParse(aliceCallID)
	assertOnePushOneOutcome(t, p, id)

	reports := p.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, ReportNew, reports[0].Kind)
	assert.Equal(t, placeholderName, reports[0].Update.LocalizedCallerName)
	assert.Equal(t, ReportUpdated, reports[1].Kind)
	assert.Equal(t, "Alice", reports[1].Update.LocalizedCallerName)
	assert.Equal(t, contracts.Handle{Type: contracts.HandleTypeGeneric, Value: "Alice"}, reports[1].Update.RemoteHandle)

	s, ok := r.Session(ctx, id)
	require.True(t, ok)
	assert.Equal(t, contracts.CallStateUpdated, s.State)
}

func TestReporter_UpdateFailureLeavesReported(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{UpdateErr: errors.New("host busy")}
	r := newReporter(t, p)

	r.HandleIncoming(ctx, alice())
	r.Wait()

	id := uuid.MustParse(aliceCallID)
	assertOnePushOneOutcome(t, p, id)
	s, _ := r.Session(ctx, id)
	assert.Equal(t, contracts.CallStateReported, s.State)

	require.NoError(t, r.Answer(ctx, id))
	require.NoError(t, r.End(ctx, id))
	s, _ = r.Session(ctx, id)
	assert.Equal(t, contracts.CallStateEnded, s.State)
}

func TestReporter_SyntheticCalls(t *testing.T) {
	tests := []struct {
		name   string
		push   func(t *testing.T) contracts.RawPush
		reason string
	}{
		{"missing fields", func(t *testing.T) contracts.RawPush {
			return callPush(t, map[string]any{"callerId": "alice"})
		}, SyntheticIncomplete},
		{"bad call id", func(t *testing.T) contracts.RawPush {
			return callPush(t, contracts.IncomingCall{CallID: "not-a-uuid", CallerID: "a", DisplayName: "A"})
		}, SyntheticIncomplete},
		{"undecryptable", func(*testing.T) contracts.RawPush {
			return contracts.RawPush{
				CategoryIdentifier: contracts.CategoryEncrypted,
				UserInfo:           map[string]any{notification.FieldCategory: "%%%"},
			}
		}, SyntheticUndecryptable},
		{"unknown category", func(t *testing.T) contracts.RawPush {
			push, err := notification.BuildEnvelope("userMessageReceived", map[string]any{}, nil)
			require.NoError(t, err)
			return push
		}, SyntheticUndecryptable},
		{"not a call", func(t *testing.T) contracts.RawPush {
			push, err := notification.BuildEnvelope(contracts.CategoryUserDeviceAdded, map[string]any{"title": "x"}, nil)
			require.NoError(t, err)
			return push
		}, SyntheticNotACall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &RecordingProvider{}
			r := newReporter(t, p)

			out := r.HandlePush(context.Background(), tt.push(t))
			assert.True(t, out.Synthetic)
			assert.Equal(t, contracts.CallStateFailed, out.State)
			assert.Equal(t, tt.reason, out.Reason)

			assertOnePushOneOutcome(t, p, out.CallID)
			reports := p.Reports()
			require.Len(t, reports, 2)
			assert.Equal(t, contracts.EndReasonFailed, reports[1].Reason)

			s, ok := r.Session(context.Background(), out.CallID)
			require.True(t, ok)
			assert.Equal(t, contracts.CallStateFailed, s.State)
			assert.True(t, s.Synthetic)
		})
	}
}

func TestReporter_UnencryptedVoIPPush(t *testing.T) {
	p := &RecordingProvider{}
	r := newReporter(t, p)

	out := r.HandlePush(context.Background(), contracts.RawPush{UserInfo: map[string]any{
		"callId": aliceCallID, "callerId": "alice", "displayName": "Alice",
	}})
	r.Wait()
	assert.False(t, out.Synthetic)
	assertOnePushOneOutcome(t, p, uuid.MustParse(aliceCallID))
}

func TestReporter_PlaceholderFailure(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{NewErr: errors.New("call rejected")}
	r := newReporter(t, p)

	out := r.HandleIncoming(ctx, alice())
	r.Wait()
	assert.Equal(t, contracts.CallStateFailed, out.State)

	id := uuid.MustParse(aliceCallID)
	assertOnePushOneOutcome(t, p, id)
	assert.Equal(t, 0, p.Count(ReportUpdated, id))
	s, _ := r.Session(ctx, id)
	assert.Equal(t, contracts.CallStateFailed, s.State)
}

// lastReport returns the most recent report recorded for id.
func lastReport(t *testing.T, p *RecordingProvider, id uuid.UUID) Report {
	t.Helper()
	var last *Report
	for _, r := range p.Reports() {
		if r.CallID == id {
			last = &r
		}
	}
	require.NotNil(t, last, "no reports for %s", id)
	return *last
}

func TestReporter_DeadlineOverrun(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		p := &RecordingProvider{Delay: 100 * time.Millisecond, IgnoreStop: ignore}
		r := newReporter(t, p, WithDeadline(10*time.Millisecond))

		out := r.HandleIncoming(context.Background(), alice())
		assert.Equal(t, contracts.CallStateFailed, out.State)
		assert.Equal(t, ErrDeadlineExceeded.Error(), out.Reason)

		s, ok := r.Session(context.Background(), out.CallID)
		require.True(t, ok)
		assert.Equal(t, contracts.CallStateFailed, s.State, "failed before the host answers")

		r.Wait()
		assertOnePushOneOutcome(t, p, out.CallID)
		reports := p.Reports()
		require.Len(t, reports, 2)
		assert.Equal(t, ReportNew, reports[0].Kind, "ignore stop %v", ignore)
		last := lastReport(t, p, out.CallID)
		assert.Equal(t, ReportEnded, last.Kind, "ignore stop %v", ignore)
		assert.Equal(t, contracts.EndReasonFailed, last.Reason)
	}
}

// inspectingProvider captures the reporter's view of a call while the host
// is handling the new-call report.
type inspectingProvider struct {
	*RecordingProvider
	onNew func(id uuid.UUID)
}

func (p *inspectingProvider) ReportNewIncomingCall(ctx context.Context, id uuid.UUID, update contracts.CallUpdate) error {
	p.onNew(id)
	return p.RecordingProvider.ReportNewIncomingCall(ctx, id, update)
}

func TestReporter_CallerDetailsAfterPlaceholderAccepted(t *testing.T) {
	ctx := context.Background()
	var (
		r      *Reporter
		during contracts.CallSession
	)
	p := &inspectingProvider{RecordingProvider: &RecordingProvider{}}
	p.onNew = func(id uuid.UUID) { during, _ = r.Session(ctx, id) }
	r = newReporter(t, p)

	r.HandleIncoming(ctx, alice())
	r.Wait()

	assert.Equal(t, contracts.CallStatePending, during.State)
	assert.Empty(t, during.CallerID)
	assert.Empty(t, during.DisplayName)

	s, ok := r.Session(ctx, uuid.MustParse(aliceCallID))
	require.True(t, ok)
	assert.Equal(t, "alice", s.CallerID)
	assert.Equal(t, "Alice", s.DisplayName)
}

func TestReporter_RejectedPlaceholderKeepsNoCallerDetails(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{NewErr: errors.New("call rejected")}
	r := newReporter(t, p)

	r.HandleIncoming(ctx, alice())
	r.Wait()

	s, ok := r.Session(ctx, uuid.MustParse(aliceCallID))
	require.True(t, ok)
	assert.Equal(t, contracts.CallStateFailed, s.State)
	assert.Empty(t, s.CallerID)
	assert.Empty(t, s.DisplayName)
}

func TestReporter_DuplicatePush(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{}
	r := newReporter(t, p)

	first := r.HandlePush(ctx, callPush(t, alice()))
	r.Wait()
	second := r.HandlePush(ctx, callPush(t, alice()))
	r.Wait()

	id := uuid.MustParse(aliceCallID)
	assert.Equal(t, id, first.CallID)
	assert.True(t, second.Synthetic)
	assert.Equal(t, SyntheticDuplicate, second.Reason)
	assert.NotEqual(t, id, second.CallID)

	assertOnePushOneOutcome(t, p, id)
	assertOnePushOneOutcome(t, p, second.CallID)

	s, _ := r.Session(ctx, id)
	assert.Equal(t, contracts.CallStateUpdated, s.State)
}

func TestReporter_RetentionPrunesEndedCalls(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &RecordingProvider{}
	r := newReporter(t, p, WithClock(func() time.Time { return now }), WithRetention(time.Minute))

	r.HandleIncoming(ctx, alice())
	r.Wait()
	id := uuid.MustParse(aliceCallID)
	require.NoError(t, r.End(ctx, id))

	now = now.Add(2 * time.Minute)
	out := r.HandleIncoming(ctx, alice())
	r.Wait()
	assert.False(t, out.Synthetic)
	assert.Equal(t, 2, p.Count(ReportNew, id))
}

func TestReporter_NormalizesDisplayName(t *testing.T) {
	p := &RecordingProvider{}
	r := newReporter(t, p)

	call := alice()
	call.DisplayName = "Zoe\u0301"
	r.HandleIncoming(context.Background(), call)
	r.Wait()

	reports := p.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "Zo\u00e9", reports[1].Update.LocalizedCallerName)
}

func TestReporter_HostActions(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{}
	r := newReporter(t, p)

	unknown := uuid.New()
	assert.ErrorIs(t, r.Answer(ctx, unknown), ErrUnknownCall)
	assert.ErrorIs(t, r.SetMuted(ctx, unknown, true), ErrUnknownCall)

	r.HandleIncoming(ctx, alice())
	r.Wait()
	id := uuid.MustParse(aliceCallID)

	require.NoError(t, r.Answer(ctx, id))
	require.NoError(t, r.SetMuted(ctx, id, true))
	s, _ := r.Session(ctx, id)
	assert.True(t, s.Muted)
	assert.Equal(t, contracts.CallStateAnswered, s.State)

	require.NoError(t, r.End(ctx, id))
	assert.ErrorIs(t, r.Answer(ctx, id), ErrIllegalTransition)
	assert.ErrorIs(t, r.SetMuted(ctx, id, false), ErrIllegalTransition)

	s, _ = r.Session(ctx, id)
	assert.Equal(t, contracts.CallStateEnded, s.State)
	assert.False(t, s.EndedAt.IsZero())
}

func TestReporter_Reset(t *testing.T) {
	ctx := context.Background()
	p := &RecordingProvider{}
	r := newReporter(t, p)

	r.HandleIncoming(ctx, alice())
	r.Wait()
	require.NoError(t, r.Reset(ctx))

	for _, s := range r.Sessions(ctx) {
		assert.True(t, s.State.Terminal())
	}
}
