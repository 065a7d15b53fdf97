// Package devicetoken exposes the push and VoIP device tokens issued by the
// host as one observable pair.
package devicetoken

import (
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

// FormatToken renders raw token bytes as lowercase hex. Nil or empty input
// yields the empty string, meaning "no token".
func FormatToken(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return hex.EncodeToString(raw)
}

// Stream holds the latest token pair. Setters are serialized; subscribers
// must not call them re-entrantly.
type Stream struct {
	mu     sync.Mutex
	value  *signal.Value[contracts.DeviceTokens]
	logger *slog.Logger
}

func NewStream() *Stream {
	return &Stream{
		value:  signal.NewValue(contracts.DeviceTokens{}),
		logger: slog.Default().With("component", "devicetoken"),
	}
}

// WithLogger overrides the logger.
func (s *Stream) WithLogger(l *slog.Logger) *Stream {
	s.logger = l
	return s
}

// Current returns the latest pair.
func (s *Stream) Current() contracts.DeviceTokens { return s.value.Get() }

// Subscribe registers fn for token changes.
func (s *Stream) Subscribe(fn func(contracts.DeviceTokens), replay bool) signal.Subscription {
	return s.value.Subscribe(fn, replay)
}

// SetPushToken records a newly issued push token. Nil clears it, as on
// registration failure.
func (s *Stream) SetPushToken(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.Current()
	next.Push = FormatToken(raw)
	s.publish("push", next)
}

// SetVoIPToken records a newly issued VoIP token. Nil clears it, as on
// token invalidation.
func (s *Stream) SetVoIPToken(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.Current()
	next.VoIP = FormatToken(raw)
	s.publish("voip", next)
}

func (s *Stream) publish(kind string, next contracts.DeviceTokens) {
	prev := s.Current()
	if prev == next {
		return
	}
	s.logger.Debug("device token changed", "kind", kind, "complete", next.Complete())
	s.value.Set(next)
}
