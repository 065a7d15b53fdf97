// Package identity persists this device's registration identifier and the
// "registered" flag, and exposes them as an observable value.
//
// The Reconciler is the only writer. Everything else reads Current or
// subscribes to changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

// ErrEmptyTokenID is returned when assigning an empty identifier.
var ErrEmptyTokenID = errors.New("identity: empty token id")

// Identity is the persisted local registration identity.
// An empty TokenID means no registration exists.
type Identity struct {
	TokenID    string `json:"token_id,omitempty"`
	Registered bool   `json:"registered"`
}

// Empty reports whether no identifier is set.
func (i Identity) Empty() bool { return i.TokenID == "" }

// Store is the persistence backend.
type Store interface {
	Load(ctx context.Context) (Identity, error)
	Save(ctx context.Context, id Identity) error
	Clear(ctx context.Context) error
}

// Tracker wraps a Store with an observable current value.
type Tracker struct {
	store  Store
	value  *signal.Value[Identity]
	logger *slog.Logger
}

// NewTracker loads the persisted identity and returns a tracker for it.
func NewTracker(ctx context.Context, store Store) (*Tracker, error) {
	id, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return &Tracker{
		store:  store,
		value:  signal.NewValue(id),
		logger: slog.Default().With("component", "identity"),
	}, nil
}

// WithLogger overrides the logger.
func (t *Tracker) WithLogger(l *slog.Logger) *Tracker {
	t.logger = l
	return t
}

// Current returns the latest identity.
func (t *Tracker) Current() Identity { return t.value.Get() }

// Subscribe registers fn for identity changes.
func (t *Tracker) Subscribe(fn func(Identity), replay bool) signal.Subscription {
	return t.value.Subscribe(fn, replay)
}

// Assign persists a freshly minted token id, not yet registered.
func (t *Tracker) Assign(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return ErrEmptyTokenID
	}
	return t.save(ctx, Identity{TokenID: tokenID})
}

// MarkRegistered records a successful upload for tokenID. It is a no-op
// when the local identity has moved on to another id or was cleared.
func (t *Tracker) MarkRegistered(ctx context.Context, tokenID string) error {
	cur := t.Current()
	if cur.TokenID != tokenID || cur.Registered {
		return nil
	}
	return t.save(ctx, Identity{TokenID: tokenID, Registered: true})
}

// Clear forgets the identity. The in-memory value is cleared even when the
// backend write fails so a deleted registration is never resurrected in
// this process.
func (t *Tracker) Clear(ctx context.Context) error {
	err := t.store.Clear(ctx)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to clear persisted identity", "error", err)
	}
	t.value.Set(Identity{})
	return err
}

func (t *Tracker) save(ctx context.Context, id Identity) error {
	if err := t.store.Save(ctx, id); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	t.logger.DebugContext(ctx, "identity updated", "token_id", id.TokenID, "registered", id.Registered)
	t.value.Set(id)
	return nil
}
