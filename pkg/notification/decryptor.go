package notification

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

var (
	errMissingField = errors.New("field missing or not a string")
	errNotUTF8      = errors.New("decoded bytes are not valid UTF-8")
)

var strictBase64 = base64.StdEncoding.Strict()

// Decryptor turns push envelopes into typed notifications. It holds no
// mutable state and is safe for concurrent use.
type Decryptor struct {
	opener  Opener
	schemas map[string]*jsonschema.Schema
}

type DecryptorOption func(*Decryptor)

// WithOpener replaces the default PlainOpener.
func WithOpener(o Opener) DecryptorOption { return func(d *Decryptor) { d.opener = o } }

// NewDecryptor compiles the category schemas.
func NewDecryptor(opts ...DecryptorOption) (*Decryptor, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	d := &Decryptor{opener: PlainOpener{}, schemas: schemas}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Decrypt decodes one envelope. Envelopes without the encrypted sentinel
// are returned as Unrecognized. Every failure is a *DecryptError.
func (d *Decryptor) Decrypt(push contracts.RawPush) (contracts.DecryptedNotification, error) {
	if !push.Encrypted() {
		raw := push
		return contracts.DecryptedNotification{
			Kind:         contracts.NotificationUnrecognized,
			Category:     push.CategoryIdentifier,
			Unrecognized: &raw,
		}, nil
	}

	catBytes, err := d.field(push.UserInfo, FieldCategory)
	if err != nil {
		return contracts.DecryptedNotification{}, malformedEnvelope(err)
	}
	if !utf8.Valid(catBytes) {
		return contracts.DecryptedNotification{}, malformedEnvelope(errNotUTF8)
	}
	category, err := categoryName(catBytes)
	if err != nil {
		return contracts.DecryptedNotification{}, malformedEnvelope(err)
	}

	body, err := d.field(push.UserInfo, FieldPayload)
	if err != nil {
		return contracts.DecryptedNotification{}, malformedPayload(category, err)
	}
	if !utf8.Valid(body) {
		return contracts.DecryptedNotification{}, malformedPayload(category, errNotUTF8)
	}

	schema, ok := d.schemas[category]
	if !ok {
		return contracts.DecryptedNotification{}, &DecryptError{
			Kind:     UnknownCategory,
			Category: category,
			Err:      fmt.Errorf("no schema for category %q", category),
		}
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return contracts.DecryptedNotification{}, malformedPayload(category, err)
	}
	if err := schema.Validate(doc); err != nil {
		return contracts.DecryptedNotification{}, malformedPayload(category, err)
	}

	switch category {
	case contracts.CategoryUserDeviceAdded:
		var rc contracts.RegistrationChanged
		if err := json.Unmarshal(body, &rc); err != nil {
			return contracts.DecryptedNotification{}, malformedPayload(category, err)
		}
		if id, ok := rc.UserInfo["deviceId"].(string); ok {
			rc.DeviceID = id
		}
		return contracts.DecryptedNotification{
			Kind:                contracts.NotificationRegistrationChanged,
			Category:            category,
			RegistrationChanged: &rc,
		}, nil
	default:
		call, err := decodeCall(body)
		if err != nil {
			return contracts.DecryptedNotification{}, malformedPayload(category, err)
		}
		return contracts.DecryptedNotification{
			Kind:         contracts.NotificationIncomingCall,
			Category:     category,
			IncomingCall: &call,
		}, nil
	}
}

// categoryName accepts the identifier as raw UTF-8 or as a JSON string
// literal.
func categoryName(raw []byte) (string, error) {
	name := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &name); err != nil {
			return "", fmt.Errorf("%s: %w", FieldCategory, err)
		}
	}
	return contracts.CanonicalCategory(name), nil
}

func (d *Decryptor) field(info map[string]any, name string) ([]byte, error) {
	s, ok := info[name].(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("%s: %w", name, errMissingField)
	}
	raw, err := strictBase64.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d.opener.Open(name, raw)
}

// decodeCall accepts call fields at the top level of the body or nested
// under userInfo. Top-level values win.
func decodeCall(body []byte) (contracts.IncomingCall, error) {
	var doc struct {
		contracts.IncomingCall
		UserInfo *contracts.IncomingCall `json:"userInfo"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return contracts.IncomingCall{}, err
	}
	call := doc.IncomingCall
	if n := doc.UserInfo; n != nil {
		if call.CallID == "" {
			call.CallID = n.CallID
		}
		if call.CallerID == "" {
			call.CallerID = n.CallerID
		}
		if call.DisplayName == "" {
			call.DisplayName = n.DisplayName
		}
		call.HasVideo = call.HasVideo || n.HasVideo
	}
	return call, nil
}
