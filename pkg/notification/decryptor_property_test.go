//go:build property
// +build property

package notification

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

const corruptAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=!-_ "

func corrupt(s string, idx, repl int) string {
	i := idx % len(s)
	c := corruptAlphabet[repl%len(corruptAlphabet)]
	if c == s[i] {
		c = corruptAlphabet[(repl+1)%len(corruptAlphabet)]
	}
	return s[:i] + string(c) + s[i+1:]
}

func withField(p contracts.RawPush, field, value string) contracts.RawPush {
	info := make(map[string]any, len(p.UserInfo))
	for k, v := range p.UserInfo {
		info[k] = v
	}
	info[field] = value
	return contracts.RawPush{CategoryIdentifier: p.CategoryIdentifier, UserInfo: info}
}

// TestDecryptCorruption verifies that flipping any base64 character of a
// sealed envelope yields a DecryptError.
func TestDecryptCorruption(t *testing.T) {
	opener, err := NewSealedOpener([]byte("property-secret"), "device-1")
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDecryptor(WithOpener(opener))
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("corrupted field is a DecryptError", prop.ForAll(
		func(callerID, name string, payloadField bool, idx, repl int) bool {
			push, err := BuildEnvelope(contracts.CategoryUserCallReceived, contracts.IncomingCall{
				CallID:      "11111111-1111-1111-1111-111111111111",
				CallerID:    callerID,
				DisplayName: name,
			}, opener)
			if err != nil {
				return false
			}
			field := FieldCategory
			if payloadField {
				field = FieldPayload
			}
			orig := push.UserInfo[field].(string)
			_, err = d.Decrypt(withField(push, field, corrupt(orig, idx, repl)))
			return KindOf(err) != ""
		},
		gen.AlphaString(),
		gen.AnyString(),
		gen.Bool(),
		gen.IntRange(0, 1<<16),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

// TestDecryptNeverPanics feeds arbitrary field contents to the plain
// decryptor.
func TestDecryptNeverPanics(t *testing.T) {
	d, err := NewDecryptor()
	if err != nil {
		t.Fatal(err)
	}
	properties := gopter.NewProperties(nil)

	properties.Property("decrypt returns a result or a DecryptError", prop.ForAll(
		func(category, payload string) bool {
			n, err := d.Decrypt(encrypted(category, payload))
			if err != nil {
				return KindOf(err) != ""
			}
			return n.Kind != ""
		},
		gen.OneGenOf(gen.Const("userCallReceived"), gen.Const("userDeviceAdded"), gen.AnyString()),
		gen.OneGenOf(gen.Const("{}"), gen.Const(`{"title":1}`), gen.AnyString()),
	))

	properties.TestingRun(t)
}
