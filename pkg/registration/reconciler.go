package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/identity"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/observability"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/store"
)

// ErrMissingDependency is returned by New when Deps is incomplete.
var ErrMissingDependency = errors.New("registration: missing dependency")

// Writer performs the backend writes. Both operations are idempotent.
type Writer interface {
	InsertOrUpdate(ctx context.Context, userID, tokenID string, rec contracts.RegistrationRecord) error
	Delete(ctx context.Context, userID, tokenID string) error
}

// RecordSource delivers snapshots of the backend record.
type RecordSource interface {
	Watch(ctx context.Context, key store.Key, fn store.Listener) (signal.Subscription, error)
}

// AuthorizationSource is the observed permission state.
type AuthorizationSource interface {
	Current() contracts.AuthorizationStatus
	Subscribe(fn func(contracts.AuthorizationStatus), replay bool) signal.Subscription
	Refresh(ctx context.Context) (contracts.AuthorizationStatus, error)
}

// TokenStream is the observed device token pair.
type TokenStream interface {
	Current() contracts.DeviceTokens
	Subscribe(fn func(contracts.DeviceTokens), replay bool) signal.Subscription
}

// Deps are the collaborators of a Reconciler. Records may be nil, in which
// case the reconciler relies on its own writes only.
type Deps struct {
	UserID        string
	Environment   contracts.Environment
	Identity      *identity.Tracker
	Authorization AuthorizationSource
	Tokens        TokenStream
	Writer        Writer
	Records       RecordSource
}

type Option func(*Reconciler)

func WithPolicy(p Policy) Option { return func(r *Reconciler) { r.policy = p } }

// WithLimiter bounds the rate of uploads. Deletes are never limited.
func WithLimiter(l *rate.Limiter) Option { return func(r *Reconciler) { r.limiter = l } }

func WithObservability(p *observability.Provider) Option {
	return func(r *Reconciler) { r.obs = p }
}

func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// Status is a point-in-time view of the reconciler, for diagnostics.
type Status struct {
	Auth          contracts.AuthorizationStatus `json:"auth"`
	TokenID       string                        `json:"token_id,omitempty"`
	Registered    bool                          `json:"registered"`
	Tokens        contracts.DeviceTokens        `json:"tokens"`
	Remote        *contracts.RegistrationRecord `json:"remote,omitempty"`
	RemotePending bool                          `json:"remote_pending"`
	LastAction    ActionKind                    `json:"last_action,omitempty"`
	InFlight      int                           `json:"in_flight"`
}

// Reconciler drives registration state from its input signals. Passes are
// serialized: a signal arriving during a pass schedules one more pass.
// Backend writes run in the background, at most one per token id.
type Reconciler struct {
	deps    Deps
	policy  Policy
	limiter *rate.Limiter
	obs     *observability.Provider
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	running       bool
	dirty         bool
	closed        bool
	subs          []signal.Subscription
	watchedID     string
	watching      bool
	watch         signal.Subscription
	remote        *contracts.RegistrationRecord
	remotePending bool
	inflight      map[string]bool
	deferred      map[string]bool
	pendingDelete map[string]bool
	deleting      map[string]bool
	retryTimer    *time.Timer
	lastAction    ActionKind
}

func New(deps Deps, opts ...Option) (*Reconciler, error) {
	switch {
	case deps.UserID == "":
		return nil, fmt.Errorf("%w: user id", ErrMissingDependency)
	case deps.Identity == nil:
		return nil, fmt.Errorf("%w: identity", ErrMissingDependency)
	case deps.Authorization == nil:
		return nil, fmt.Errorf("%w: authorization", ErrMissingDependency)
	case deps.Tokens == nil:
		return nil, fmt.Errorf("%w: device tokens", ErrMissingDependency)
	case deps.Writer == nil:
		return nil, fmt.Errorf("%w: writer", ErrMissingDependency)
	}
	if deps.Environment == "" {
		deps.Environment = contracts.EnvironmentDevelopment
	}

	r := &Reconciler{
		deps:          deps,
		policy:        DefaultPolicy(),
		obs:           observability.Nop(),
		logger:        slog.Default().With("component", "registration"),
		inflight:      make(map[string]bool),
		deferred:      make(map[string]bool),
		pendingDelete: make(map[string]bool),
		deleting:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// Start subscribes to the input signals and runs the first pass.
func (r *Reconciler) Start(ctx context.Context) {
	trigger := func() { r.Trigger() }
	subs := []signal.Subscription{
		r.deps.Authorization.Subscribe(func(contracts.AuthorizationStatus) { trigger() }, false),
		r.deps.Tokens.Subscribe(func(contracts.DeviceTokens) { trigger() }, false),
		r.deps.Identity.Subscribe(func(identity.Identity) { trigger() }, false),
	}
	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "reconciler started", "user_id", r.deps.UserID, "environment", r.deps.Environment)
	r.Trigger()
}

// Refresh re-reads the authorization status, as on app foreground. The
// status signal triggers a pass.
func (r *Reconciler) Refresh(ctx context.Context) error {
	if _, err := r.deps.Authorization.Refresh(ctx); err != nil {
		r.logger.WarnContext(ctx, "authorization refresh failed", "error", err)
		r.Trigger()
		return err
	}
	return nil
}

// Trigger runs reconciliation passes until no further change is pending.
// A call made while a pass is running returns immediately and leaves one
// more pass to the running loop.
func (r *Reconciler) Trigger() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.running {
		r.dirty = true
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	for {
		r.pass(r.ctx)

		r.mu.Lock()
		if !r.dirty || r.closed {
			r.running = false
			r.mu.Unlock()
			return
		}
		r.dirty = false
		r.mu.Unlock()
	}
}

// Wait blocks until no backend write is in flight.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close unsubscribes from every signal, cancels in-flight writes and waits
// for them to return.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	if r.watch != nil {
		subs = append(subs, r.watch)
		r.watch = nil
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	r.cancel()
	r.wg.Wait()
}

// Status reports the current state.
func (r *Reconciler) Status() Status {
	id := r.deps.Identity.Current()
	r.mu.Lock()
	defer r.mu.Unlock()
	var remote *contracts.RegistrationRecord
	if r.remote != nil {
		cp := *r.remote
		remote = &cp
	}
	return Status{
		Auth:          r.deps.Authorization.Current(),
		TokenID:       id.TokenID,
		Registered:    id.Registered,
		Tokens:        r.deps.Tokens.Current(),
		Remote:        remote,
		RemotePending: r.remotePending || r.watchedID != id.TokenID,
		LastAction:    r.lastAction,
		InFlight:      len(r.inflight),
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	tokenID := r.deps.Identity.Current().TokenID
	r.syncWatch(ctx, tokenID)

	r.mu.Lock()
	snap := Snapshot{
		Auth:          r.deps.Authorization.Current(),
		TokenID:       tokenID,
		Tokens:        r.deps.Tokens.Current(),
		Remote:        r.remote,
		RemotePending: r.remotePending || r.watchedID != tokenID,
	}
	action := r.policy.Reconcile(snap)
	r.lastAction = action.Kind
	// Deciding and checking for an outstanding write happen under one
	// lock so a write completing in between cannot be duplicated.
	deferred := action.Kind == ActionUpdate && r.inflight[action.TokenID]
	if deferred {
		r.deferred[action.TokenID] = true
	}
	r.mu.Unlock()

	ctx, finish := r.obs.TrackOperation(ctx, "registration.reconcile",
		observability.ReconcileOperation(string(action.Kind), action.TokenID, string(snap.Auth))...)
	r.obs.CountRegistrationAction(ctx, string(action.Kind))

	var err error
	switch action.Kind {
	case ActionCreate:
		err = r.create(ctx, action)
	case ActionUpdate:
		if deferred {
			r.logger.DebugContext(ctx, "write in flight, pass deferred", "token_id", action.TokenID)
			break
		}
		r.startWrite(ctx, action.TokenID, action.Tokens)
	case ActionDelete:
		err = r.remove(ctx, action.TokenID)
	}
	finish(err)
}

func (r *Reconciler) create(ctx context.Context, a Action) error {
	if err := r.deps.Identity.Assign(ctx, a.TokenID); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist new token id", "error", err)
		return err
	}
	r.logger.InfoContext(ctx, "registration created", "token_id", a.TokenID, "tokens_complete", a.Tokens.Complete())

	// A freshly minted id has no backend record; upload without waiting
	// for the first snapshot.
	if a.Tokens.Complete() {
		r.startWrite(ctx, a.TokenID, a.Tokens)
	}
	return nil
}

func (r *Reconciler) startWrite(ctx context.Context, tokenID string, tokens contracts.DeviceTokens) {
	r.mu.Lock()
	if r.inflight[tokenID] {
		r.deferred[tokenID] = true
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "write in flight, pass deferred", "token_id", tokenID)
		return
	}
	if delay := r.reserveLocked(); delay > 0 {
		r.scheduleRetryLocked(delay)
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "upload rate limited, pass deferred", "token_id", tokenID, "delay", delay)
		return
	}
	r.inflight[tokenID] = true
	r.wg.Add(1)
	r.mu.Unlock()

	rec := contracts.RecordFor(contracts.RegistrationToken{
		TokenID:     tokenID,
		Tokens:      tokens,
		Environment: r.deps.Environment,
		LastUpdated: r.policy.Now().UTC(),
	})
	go r.write(tokenID, rec)
}

func (r *Reconciler) write(tokenID string, rec contracts.RegistrationRecord) {
	defer r.wg.Done()
	ctx := r.ctx

	err := r.deps.Writer.InsertOrUpdate(ctx, r.deps.UserID, tokenID, rec)

	r.mu.Lock()
	delete(r.inflight, tokenID)
	deferred := r.deferred[tokenID]
	delete(r.deferred, tokenID)
	deleteQueued := r.pendingDelete[tokenID]
	delete(r.pendingDelete, tokenID)
	if err == nil && !deleteQueued && r.watchedID == tokenID {
		// Mirror the write so a pass before the snapshot echo sees it.
		mirrored := rec
		r.remote = &mirrored
		r.remotePending = false
	}
	r.mu.Unlock()

	switch {
	case deleteQueued:
		r.logger.InfoContext(ctx, "write finished after deletion, issuing remote delete", "token_id", tokenID)
		r.startDelete(tokenID)
	case err != nil:
		r.logger.WarnContext(ctx, "registration upload failed", "token_id", tokenID, "error", err)
	default:
		r.logger.InfoContext(ctx, "registration uploaded", "token_id", tokenID)
		if err := r.deps.Identity.MarkRegistered(ctx, tokenID); err != nil {
			r.logger.WarnContext(ctx, "failed to persist registered flag", "token_id", tokenID, "error", err)
		}
	}

	// A failed write waits for the next signal unless one already arrived
	// while it was in flight.
	if err == nil || deferred {
		r.Trigger()
	}
}

// remove clears the local identity at once. The remote delete follows,
// after any write still in flight for the same id.
func (r *Reconciler) remove(ctx context.Context, tokenID string) error {
	err := r.deps.Identity.Clear(ctx)
	r.logger.InfoContext(ctx, "registration deleted locally", "token_id", tokenID)

	r.mu.Lock()
	if r.deleting[tokenID] {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "remote delete already in flight", "token_id", tokenID)
		return err
	}
	if r.inflight[tokenID] {
		r.pendingDelete[tokenID] = true
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "remote delete queued behind in-flight write", "token_id", tokenID)
		return err
	}
	r.mu.Unlock()

	r.startDelete(tokenID)
	return err
}

func (r *Reconciler) startDelete(tokenID string) {
	r.mu.Lock()
	r.inflight[tokenID] = true
	r.deleting[tokenID] = true
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		err := r.deps.Writer.Delete(r.ctx, r.deps.UserID, tokenID)

		r.mu.Lock()
		delete(r.inflight, tokenID)
		delete(r.deleting, tokenID)
		r.mu.Unlock()

		if err != nil {
			r.logger.WarnContext(r.ctx, "remote delete failed, local registration stays cleared",
				"token_id", tokenID, "error", err)
			return
		}
		r.logger.InfoContext(r.ctx, "registration deleted remotely", "token_id", tokenID)
	}()
}

// syncWatch keeps exactly one backend subscription, for tokenID.
func (r *Reconciler) syncWatch(ctx context.Context, tokenID string) {
	r.mu.Lock()
	if r.closed || (r.watchedID == tokenID && r.watching) {
		r.mu.Unlock()
		return
	}
	old := r.watch
	r.watch = nil
	r.watchedID = tokenID
	r.remote = nil
	r.watching = tokenID == "" || r.deps.Records == nil
	r.remotePending = !r.watching
	r.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	if r.deps.Records == nil || tokenID == "" {
		return
	}

	key := store.Key{UserID: r.deps.UserID, TokenID: tokenID}
	sub, err := r.deps.Records.Watch(r.ctx, key, r.onRecord(tokenID))
	if err != nil {
		r.logger.WarnContext(ctx, "failed to subscribe to backend record", "path", key.Path(), "error", err)
		return
	}

	r.mu.Lock()
	if r.watchedID != tokenID || r.closed {
		r.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	r.watch = sub
	r.watching = true
	r.mu.Unlock()
}

func (r *Reconciler) onRecord(tokenID string) store.Listener {
	return func(rec *contracts.RegistrationRecord, err error) {
		if err != nil {
			r.logger.WarnContext(r.ctx, "backend record snapshot failed", "token_id", tokenID, "error", err)
			return
		}
		r.mu.Lock()
		if r.watchedID != tokenID {
			r.mu.Unlock()
			return
		}
		if rec != nil {
			cp := *rec
			r.remote = &cp
		} else {
			r.remote = nil
		}
		r.remotePending = false
		r.mu.Unlock()

		r.Trigger()
	}
}

func (r *Reconciler) reserveLocked() time.Duration {
	if r.limiter == nil {
		return 0
	}
	now := r.policy.Now()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
	}
	return delay
}

func (r *Reconciler) scheduleRetryLocked(delay time.Duration) {
	if r.retryTimer != nil || r.closed {
		return
	}
	r.retryTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.retryTimer = nil
		r.mu.Unlock()
		r.Trigger()
	})
}
