// Package authorization observes the platform notification-permission state.
package authorization

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

// Platform is the host permission API.
type Platform interface {
	// Status returns the current permission state without prompting.
	Status(ctx context.Context) (contracts.AuthorizationStatus, error)
	// RequestAuthorization shows the permission prompt and reports whether
	// the user granted it.
	RequestAuthorization(ctx context.Context) (bool, error)
	// RegisterForRemoteNotifications asks the host to issue device tokens.
	RegisterForRemoteNotifications(ctx context.Context) error
}

// Observer publishes the latest authorization status.
type Observer struct {
	platform Platform
	value    *signal.Value[contracts.AuthorizationStatus]
	logger   *slog.Logger

	// serializes platform round trips
	mu sync.Mutex
}

// NewObserver creates an observer with status undetermined. Call Refresh
// to read the real status.
func NewObserver(platform Platform) *Observer {
	return &Observer{
		platform: platform,
		value:    signal.NewValue(contracts.AuthorizationUndetermined),
		logger:   slog.Default().With("component", "authorization"),
	}
}

// WithLogger overrides the logger.
func (o *Observer) WithLogger(l *slog.Logger) *Observer {
	o.logger = l
	return o
}

// Current returns the last observed status.
func (o *Observer) Current() contracts.AuthorizationStatus { return o.value.Get() }

// Subscribe registers fn for status changes.
func (o *Observer) Subscribe(fn func(contracts.AuthorizationStatus), replay bool) signal.Subscription {
	return o.value.Subscribe(fn, replay)
}

// Refresh re-reads the platform status and publishes it. Subscribers are
// notified even when the status is unchanged, which re-triggers
// reconciliation on app foreground.
func (o *Observer) Refresh(ctx context.Context) (contracts.AuthorizationStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refreshLocked(ctx)
}

// RequestAuthorization prompts the user when the status is undetermined,
// then publishes the resulting status. It is a plain refresh otherwise.
func (o *Observer) RequestAuthorization(ctx context.Context) (contracts.AuthorizationStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status, err := o.platform.Status(ctx)
	if err != nil {
		return o.Current(), fmt.Errorf("read authorization status: %w", err)
	}
	if status == contracts.AuthorizationUndetermined {
		granted, err := o.platform.RequestAuthorization(ctx)
		if err != nil {
			o.logger.WarnContext(ctx, "authorization request failed", "error", err)
		} else {
			o.logger.InfoContext(ctx, "authorization requested", "granted", granted)
		}
	}
	return o.refreshLocked(ctx)
}

func (o *Observer) refreshLocked(ctx context.Context) (contracts.AuthorizationStatus, error) {
	status, err := o.platform.Status(ctx)
	if err != nil {
		return o.Current(), fmt.Errorf("read authorization status: %w", err)
	}
	if status.Granted() {
		if err := o.platform.RegisterForRemoteNotifications(ctx); err != nil {
			o.logger.WarnContext(ctx, "remote notification registration failed", "error", err)
		}
	}
	if prev := o.Current(); prev != status {
		o.logger.InfoContext(ctx, "authorization status changed", "from", prev, "to", status)
	}
	o.value.Set(status)
	return status, nil
}
