package callsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/notification"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/observability"
)

const (
	DefaultDeadline  = 2 * time.Second
	DefaultRetention = time.Hour

	placeholderHandle = "Unknown"
	placeholderName   = "Incoming call"
)

// ErrDeadlineExceeded is recorded when the host did not accept the
// placeholder report in time.
var ErrDeadlineExceeded = errors.New("callsession: placeholder report deadline exceeded")

// Why a push ended in a synthetic call.
const (
	SyntheticUndecryptable = "undecryptable"
	SyntheticNotACall      = "not_a_call"
	SyntheticIncomplete    = "incomplete"
	SyntheticDuplicate     = "duplicate"
)

// Outcome describes how one VoIP push was handled.
type Outcome struct {
	CallID    uuid.UUID           `json:"call_id"`
	State     contracts.CallState `json:"state"`
	Synthetic bool                `json:"synthetic"`
	Reason    string              `json:"reason,omitempty"`
}

type Option func(*Reporter)

// WithDeadline bounds the placeholder report.
func WithDeadline(d time.Duration) Option { return func(r *Reporter) { r.deadline = d } }

// WithRetention keeps terminal sessions this long for duplicate detection.
func WithRetention(d time.Duration) Option { return func(r *Reporter) { r.retention = d } }

func WithClock(clock func() time.Time) Option { return func(r *Reporter) { r.clock = clock } }

func WithIDGenerator(fn func() uuid.UUID) Option { return func(r *Reporter) { r.newID = fn } }

func WithObservability(p *observability.Provider) Option {
	return func(r *Reporter) { r.obs = p }
}

func WithLogger(l *slog.Logger) Option { return func(r *Reporter) { r.logger = l } }

// Reporter turns VoIP pushes into host call reports. Every push produces
// exactly one new-call report followed by either an update or an end.
// Session state is only touched on the reporter's Queue.
type Reporter struct {
	provider  Provider
	decryptor *notification.Decryptor
	queue     *Queue

	deadline  time.Duration
	retention time.Duration
	clock     func() time.Time
	newID     func() uuid.UUID
	obs       *observability.Provider
	logger    *slog.Logger

	sessions map[uuid.UUID]*contracts.CallSession
	updates  sync.WaitGroup
}

func NewReporter(provider Provider, decryptor *notification.Decryptor, opts ...Option) *Reporter {
	r := &Reporter{
		provider:  provider,
		decryptor: decryptor,
		queue:     NewQueue(),
		deadline:  DefaultDeadline,
		retention: DefaultRetention,
		clock:     time.Now,
		newID:     uuid.New,
		obs:       observability.Nop(),
		logger:    slog.Default().With("component", "call_reporter"),
		sessions:  make(map[uuid.UUID]*contracts.CallSession),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandlePush decodes a VoIP push and reports it. It returns once the
// placeholder report has completed or timed out; the detail update, or the
// end report for a late host, continues in the background.
func (r *Reporter) HandlePush(ctx context.Context, push contracts.RawPush) Outcome {
	n, err := r.decryptor.Decrypt(push)
	if err != nil {
		r.logger.WarnContext(ctx, "undecryptable voip push", "kind", notification.KindOf(err), "error", err)
		return r.synthetic(ctx, SyntheticUndecryptable)
	}
	switch n.Kind {
	case contracts.NotificationIncomingCall:
		return r.HandleIncoming(ctx, *n.IncomingCall)
	case contracts.NotificationUnrecognized:
		// Unencrypted VoIP pushes carry the call fields in the dictionary.
		return r.HandleIncoming(ctx, callFromUserInfo(n.Unrecognized.UserInfo))
	default:
		r.logger.WarnContext(ctx, "voip push is not a call", "category", n.Category)
		return r.synthetic(ctx, SyntheticNotACall)
	}
}

// HandleIncoming reports a decoded call.
func (r *Reporter) HandleIncoming(ctx context.Context, call contracts.IncomingCall) (out Outcome) {
	if !call.Valid() {
		r.logger.WarnContext(ctx, "incoming call is missing required fields",
			"call_id", call.CallID, "caller_id", call.CallerID)
		return r.synthetic(ctx, SyntheticIncomplete)
	}
	id := uuid.MustParse(call.CallID)

	ctx, done := r.obs.TrackOperation(ctx, "callsession.handle_push",
		observability.AttrCallID.String(id.String()))
	defer func() {
		observability.SetSpanAttributes(ctx, observability.CallOperation(out.CallID.String(), string(out.State), out.Synthetic)...)
		if !out.Synthetic {
			r.obs.CountCallOutcome(ctx, string(out.State), false)
		}
		done(nil)
	}()

	duplicate := false
	err := r.queue.Do(ctx, func() {
		r.pruneLocked()
		if _, ok := r.sessions[id]; ok {
			duplicate = true
			return
		}
		now := r.clock()
		r.sessions[id] = &contracts.CallSession{
			CallID:    id,
			HasVideo:  call.HasVideo,
			State:     contracts.CallStatePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "call queue unavailable", "error", err)
		return Outcome{CallID: id, State: contracts.CallStateFailed, Reason: err.Error()}
	}
	if duplicate {
		r.logger.InfoContext(ctx, "duplicate voip push", "call_id", id)
		return r.synthetic(ctx, SyntheticDuplicate)
	}

	if inflight, err := r.reportPlaceholder(ctx, id, call.HasVideo); err != nil {
		r.logger.ErrorContext(ctx, "placeholder report failed", "call_id", id, "error", err)
		r.fail(ctx, id, inflight)
		return Outcome{CallID: id, State: contracts.CallStateFailed, Reason: err.Error()}
	}
	r.applyWith(ctx, id, contracts.CallStateReported, func(s *contracts.CallSession) {
		s.CallerID = call.CallerID
		s.DisplayName = norm.NFC.String(call.DisplayName)
	})

	update := detailUpdate(call)
	bg := context.WithoutCancel(ctx)
	r.updates.Add(1)
	go func() {
		defer r.updates.Done()
		if err := r.provider.ReportCallUpdated(bg, id, update); err != nil {
			r.logger.WarnContext(bg, "call update failed, leaving placeholder", "call_id", id, "error", err)
			return
		}
		r.apply(bg, id, contracts.CallStateUpdated)
	}()
	return Outcome{CallID: id, State: contracts.CallStateReported}
}

// synthetic reports and immediately ends a call that stands in for a push
// that could not be presented.
func (r *Reporter) synthetic(ctx context.Context, reason string) (out Outcome) {
	id := r.newID()
	ctx, done := r.obs.TrackOperation(ctx, "callsession.handle_push",
		observability.CallOperation(id.String(), string(contracts.CallStatePending), true)...)
	defer func() {
		observability.SetSpanAttributes(ctx, observability.AttrCallState.String(string(out.State)))
		r.obs.CountCallOutcome(ctx, string(out.State), true)
		done(nil)
	}()

	now := r.clock()
	err := r.queue.Do(ctx, func() {
		r.sessions[id] = &contracts.CallSession{
			CallID:    id,
			State:     contracts.CallStatePending,
			Synthetic: true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	})
	if err != nil {
		return Outcome{CallID: id, State: contracts.CallStateFailed, Synthetic: true, Reason: reason}
	}
	inflight, err := r.reportPlaceholder(ctx, id, false)
	if err != nil {
		r.logger.ErrorContext(ctx, "synthetic call report failed", "call_id", id, "error", err)
	} else {
		r.apply(ctx, id, contracts.CallStateReported)
	}
	r.fail(ctx, id, inflight)
	return Outcome{CallID: id, State: contracts.CallStateFailed, Synthetic: true, Reason: reason}
}

// reportPlaceholder runs the new-call report under the deadline. A host
// that answers after the deadline is treated as a failure; the returned
// channel then yields the host's late answer.
func (r *Reporter) reportPlaceholder(ctx context.Context, id uuid.UUID, hasVideo bool) (<-chan error, error) {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- r.provider.ReportNewIncomingCall(ctx, id, placeholderUpdate(hasVideo)) }()

	select {
	case err := <-result:
		return nil, err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, ErrDeadlineExceeded
		}
		return result, ctx.Err()
	}
}

// fail marks id failed and ends it with reason FAILED. When the new-call
// report is still in flight the end report waits for it, so the host never
// sees the end before the call.
func (r *Reporter) fail(ctx context.Context, id uuid.UUID, inflight <-chan error) {
	bg := context.WithoutCancel(ctx)
	r.apply(bg, id, contracts.CallStateFailed)
	if inflight == nil {
		r.end(bg, id)
		return
	}
	r.updates.Add(1)
	go func() {
		defer r.updates.Done()
		if err := <-inflight; err != nil {
			r.logger.DebugContext(bg, "late placeholder report failed", "call_id", id, "error", err)
		}
		r.end(bg, id)
	}()
}

func (r *Reporter) end(ctx context.Context, id uuid.UUID) {
	if err := r.provider.ReportCallEnded(ctx, id, r.clock(), contracts.EndReasonFailed); err != nil {
		r.logger.ErrorContext(ctx, "end report failed", "call_id", id, "error", err)
	}
}

func (r *Reporter) apply(ctx context.Context, id uuid.UUID, to contracts.CallState) {
	r.applyWith(ctx, id, to, nil)
}

// applyWith moves id to state to and, on success, lets fill amend the
// session in the same queue step.
func (r *Reporter) applyWith(ctx context.Context, id uuid.UUID, to contracts.CallState, fill func(*contracts.CallSession)) {
	var terr error
	err := r.queue.Do(ctx, func() {
		if terr = r.transitionLocked(id, to); terr == nil && fill != nil {
			fill(r.sessions[id])
		}
	})
	if err == nil {
		err = terr
	}
	if err != nil {
		r.logger.WarnContext(ctx, "call state not changed", "call_id", id, "to", to, "error", err)
	}
}

// transitionLocked must run on the queue.
func (r *Reporter) transitionLocked(id uuid.UUID, to contracts.CallState) error {
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if err := transition(s, to); err != nil {
		return err
	}
	s.UpdatedAt = r.clock()
	if to.Terminal() {
		s.EndedAt = s.UpdatedAt
	}
	return nil
}

func (r *Reporter) pruneLocked() {
	cutoff := r.clock().Add(-r.retention)
	for id, s := range r.sessions {
		if s.State.Terminal() && s.EndedAt.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}

// Answer records that the user answered the call.
func (r *Reporter) Answer(ctx context.Context, id uuid.UUID) error {
	return r.hostAction(ctx, "answer", id, contracts.CallStateAnswered)
}

// End records that the call ended on this device.
func (r *Reporter) End(ctx context.Context, id uuid.UUID) error {
	return r.hostAction(ctx, "end", id, contracts.CallStateEnded)
}

func (r *Reporter) hostAction(ctx context.Context, action string, id uuid.UUID, to contracts.CallState) error {
	var terr error
	if err := r.queue.Do(ctx, func() { terr = r.transitionLocked(id, to) }); err != nil {
		return err
	}
	if terr != nil {
		r.logger.WarnContext(ctx, "rejected host action", "action", action, "call_id", id, "error", terr)
		return terr
	}
	r.logger.DebugContext(ctx, "host action", "action", action, "call_id", id)
	return nil
}

// SetMuted records the mute state of a live call.
func (r *Reporter) SetMuted(ctx context.Context, id uuid.UUID, muted bool) error {
	var terr error
	if err := r.queue.Do(ctx, func() {
		s, ok := r.sessions[id]
		switch {
		case !ok:
			terr = fmt.Errorf("%w: %s", ErrUnknownCall, id)
		case s.State.Terminal():
			terr = fmt.Errorf("%w: mute on %s call", ErrIllegalTransition, s.State)
		default:
			s.Muted = muted
			s.UpdatedAt = r.clock()
		}
	}); err != nil {
		return err
	}
	return terr
}

// Reset ends every live call locally, as after a host provider reset.
func (r *Reporter) Reset(ctx context.Context) error {
	return r.queue.Do(ctx, func() {
		now := r.clock()
		for _, s := range r.sessions {
			if s.State.Terminal() {
				continue
			}
			if s.State == contracts.CallStatePending {
				s.State = contracts.CallStateFailed
			} else {
				s.State = contracts.CallStateEnded
			}
			s.UpdatedAt, s.EndedAt = now, now
		}
	})
}

// Session returns a copy of the tracked session for id.
func (r *Reporter) Session(ctx context.Context, id uuid.UUID) (contracts.CallSession, bool) {
	var (
		out contracts.CallSession
		ok  bool
	)
	_ = r.queue.Do(ctx, func() {
		var s *contracts.CallSession
		if s, ok = r.sessions[id]; ok {
			out = *s
		}
	})
	return out, ok
}

// Sessions returns copies of all tracked sessions, oldest first.
func (r *Reporter) Sessions(ctx context.Context) []contracts.CallSession {
	var out []contracts.CallSession
	_ = r.queue.Do(ctx, func() {
		for _, s := range r.sessions {
			out = append(out, *s)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until background detail updates and late end reports have
// finished.
func (r *Reporter) Wait() { r.updates.Wait() }

// Close waits for background work and stops the queue.
func (r *Reporter) Close() {
	r.Wait()
	r.queue.Close()
}

func placeholderUpdate(hasVideo bool) contracts.CallUpdate {
	return contracts.CallUpdate{
		RemoteHandle:        contracts.Handle{Type: contracts.HandleTypeGeneric, Value: placeholderHandle},
		LocalizedCallerName: placeholderName,
		HasVideo:            hasVideo,
		SupportsHolding:     true,
	}
}

func detailUpdate(call contracts.IncomingCall) contracts.CallUpdate {
	name := norm.NFC.String(call.DisplayName)
	return contracts.CallUpdate{
		RemoteHandle:        contracts.Handle{Type: contracts.HandleTypeGeneric, Value: name},
		LocalizedCallerName: name,
		HasVideo:            call.HasVideo,
		SupportsHolding:     true,
	}
}

func callFromUserInfo(info map[string]any) contracts.IncomingCall {
	str := func(k string) string { s, _ := info[k].(string); return s }
	video, _ := info["hasVideo"].(bool)
	return contracts.IncomingCall{
		CallID:      str("callId"),
		CallerID:    str("callerId"),
		DisplayName: str("displayName"),
		HasVideo:    video,
	}
}
