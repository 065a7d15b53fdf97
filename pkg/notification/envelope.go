package notification

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

// userInfo keys of an encrypted envelope.
const (
	FieldCategory = "encryptedCategoryIdentifier"
	FieldPayload  = "encryptedPayload"
)

var ErrEmptyEnvelope = errors.New("notification: empty envelope")

// Sealer produces the opaque form of an envelope field.
type Sealer interface {
	Seal(field string, plaintext []byte) ([]byte, error)
}

// ParseEnvelope reads a push envelope from JSON. Two shapes are accepted:
// {"categoryIdentifier": ..., "userInfo": {...}} as forwarded by the host,
// and a raw APNs dictionary where the category sits under aps.category and
// the whole dictionary is the userInfo.
func ParseEnvelope(data []byte) (contracts.RawPush, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return contracts.RawPush{}, fmt.Errorf("notification: parse envelope: %w", err)
	}
	if len(doc) == 0 {
		return contracts.RawPush{}, ErrEmptyEnvelope
	}
	if cat, ok := doc["categoryIdentifier"].(string); ok {
		info, _ := doc["userInfo"].(map[string]any)
		return contracts.RawPush{CategoryIdentifier: cat, UserInfo: info}, nil
	}
	push := contracts.RawPush{UserInfo: doc}
	if aps, ok := doc["aps"].(map[string]any); ok {
		push.CategoryIdentifier, _ = aps["category"].(string)
	}
	return push, nil
}

// BuildEnvelope produces an encrypted envelope for category and body.
// A nil sealer leaves the fields as plain base64.
func BuildEnvelope(category string, body any, sealer Sealer) (contracts.RawPush, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return contracts.RawPush{}, fmt.Errorf("notification: encode body: %w", err)
	}
	cat := []byte(category)
	if sealer != nil {
		if cat, err = sealer.Seal(FieldCategory, cat); err != nil {
			return contracts.RawPush{}, err
		}
		if payload, err = sealer.Seal(FieldPayload, payload); err != nil {
			return contracts.RawPush{}, err
		}
	}
	return contracts.RawPush{
		CategoryIdentifier: contracts.CategoryEncrypted,
		UserInfo: map[string]any{
			FieldCategory: base64.StdEncoding.EncodeToString(cat),
			FieldPayload:  base64.StdEncoding.EncodeToString(payload),
		},
	}, nil
}
