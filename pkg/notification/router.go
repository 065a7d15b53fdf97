package notification

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/observability"
)

// Presentation is the set of ways a foreground notification is shown.
type Presentation uint8

const (
	PresentBanner Presentation = 1 << iota
	PresentBadge
	PresentSound
	PresentList

	PresentNone Presentation = 0
	PresentAll               = PresentBanner | PresentBadge | PresentSound | PresentList
)

func (p Presentation) String() string {
	if p == PresentNone {
		return "none"
	}
	var parts []string
	for _, o := range []struct {
		flag Presentation
		name string
	}{{PresentBanner, "banner"}, {PresentBadge, "badge"}, {PresentSound, "sound"}, {PresentList, "list"}} {
		if p&o.flag != 0 {
			parts = append(parts, o.name)
		}
	}
	return strings.Join(parts, "|")
}

// legacyDeviceAdded is the unencrypted category older servers still send.
const legacyDeviceAdded = "USER_DEVICE_ADDED"

// Handlers receive routed notifications. Nil handlers are skipped.
type Handlers struct {
	RegistrationChanged func(ctx context.Context, n contracts.RegistrationChanged)
	IncomingCall        func(ctx context.Context, c contracts.IncomingCall)
	Unrecognized        func(ctx context.Context, p contracts.RawPush)
}

// Router decrypts user-visible pushes and hands them to Handlers.
// Decryption failures are logged and dropped.
type Router struct {
	decryptor *Decryptor
	handlers  Handlers
	obs       *observability.Provider
	logger    *slog.Logger
}

func NewRouter(d *Decryptor, h Handlers) *Router {
	return &Router{
		decryptor: d,
		handlers:  h,
		obs:       observability.Nop(),
		logger:    slog.Default().With("component", "notification_router"),
	}
}

func (r *Router) WithLogger(l *slog.Logger) *Router {
	r.logger = l
	return r
}

func (r *Router) WithObservability(p *observability.Provider) *Router {
	r.obs = p
	return r
}

// Route handles one push and returns how it should be presented while the
// app is in the foreground.
func (r *Router) Route(ctx context.Context, push contracts.RawPush) Presentation {
	ctx, done := r.obs.TrackOperation(ctx, "notification.route",
		observability.AttrCategory.String(push.CategoryIdentifier))
	n, err := r.decryptor.Decrypt(push)
	if err != nil {
		kind := KindOf(err)
		observability.SetSpanAttributes(ctx, observability.AttrDecryptError.String(string(kind)))
		r.obs.CountDecryptFailure(ctx, string(kind))
		r.logger.WarnContext(ctx, "dropping undecryptable notification", "kind", kind, "error", err)
		done(err)
		return PresentNone
	}
	done(nil)

	switch n.Kind {
	case contracts.NotificationRegistrationChanged:
		if r.handlers.RegistrationChanged != nil {
			r.handlers.RegistrationChanged(ctx, *n.RegistrationChanged)
		}
		return PresentAll
	case contracts.NotificationIncomingCall:
		if r.handlers.IncomingCall != nil {
			r.handlers.IncomingCall(ctx, *n.IncomingCall)
		}
		return PresentNone
	default:
		raw := *n.Unrecognized
		if raw.CategoryIdentifier == legacyDeviceAdded {
			id, _ := raw.UserInfo["deviceId"].(string)
			if id == "" {
				r.logger.ErrorContext(ctx, "legacy device-added notification without deviceId")
				return PresentNone
			}
			if r.handlers.RegistrationChanged != nil {
				r.handlers.RegistrationChanged(ctx, contracts.RegistrationChanged{DeviceID: id, UserInfo: raw.UserInfo})
			}
			return PresentAll
		}
		r.logger.DebugContext(ctx, "passing through unencrypted notification", "category", raw.CategoryIdentifier)
		if r.handlers.Unrecognized != nil {
			r.handlers.Unrecognized(ctx, raw)
		}
		return PresentNone
	}
}
