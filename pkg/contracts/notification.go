package contracts

import (
	"strings"

	"github.com/google/uuid"
)

// Category identifiers carried by push envelopes.
const (
	CategoryPrefix    = "org.gpfister.republik."
	CategoryEncrypted = CategoryPrefix + "encrypted"

	CategoryUserDeviceAdded  = "userDeviceAdded"
	CategoryUserCallReceived = "userCallReceived"
)

// CanonicalCategory strips the application prefix from a category string.
func CanonicalCategory(c string) string {
	return strings.TrimPrefix(c, CategoryPrefix)
}

// RawPush is an inbound push envelope as delivered by the host.
type RawPush struct {
	CategoryIdentifier string         `json:"categoryIdentifier"`
	UserInfo           map[string]any `json:"userInfo"`
}

// Encrypted reports whether the envelope carries the encrypted sentinel.
func (p RawPush) Encrypted() bool {
	return p.CategoryIdentifier == CategoryEncrypted
}

// NotificationKind tags a DecryptedNotification.
type NotificationKind string

const (
	NotificationRegistrationChanged NotificationKind = "REGISTRATION_CHANGED"
	NotificationIncomingCall        NotificationKind = "INCOMING_CALL"
	NotificationUnrecognized        NotificationKind = "UNRECOGNIZED"
)

// DecryptedNotification is the result of decoding one envelope.
// Exactly one of the payload pointers matches Kind.
type DecryptedNotification struct {
	Kind     NotificationKind `json:"kind"`
	Category string           `json:"category"`

	RegistrationChanged *RegistrationChanged `json:"registration_changed,omitempty"`
	IncomingCall        *IncomingCall        `json:"incoming_call,omitempty"`
	Unrecognized        *RawPush             `json:"unrecognized,omitempty"`
}

// RegistrationChanged is the body of a userDeviceAdded notification.
type RegistrationChanged struct {
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle,omitempty"`
	DeviceID string         `json:"deviceId,omitempty"`
	UserInfo map[string]any `json:"userInfo,omitempty"`
}

// IncomingCall is the body of a userCallReceived notification.
type IncomingCall struct {
	CallID      string `json:"callId"`
	CallerID    string `json:"callerId"`
	DisplayName string `json:"displayName"`
	HasVideo    bool   `json:"hasVideo,omitempty"`
}

// Valid reports whether every field required to present the call is set
// and the call id parses as a UUID.
func (c IncomingCall) Valid() bool {
	if c.CallerID == "" || c.DisplayName == "" {
		return false
	}
	_, err := uuid.Parse(c.CallID)
	return err == nil
}
