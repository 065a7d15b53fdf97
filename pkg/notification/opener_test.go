package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

func TestSealedOpener_RoundTrip(t *testing.T) {
	o, err := NewSealedOpener([]byte("device-secret"), "device-1")
	require.NoError(t, err)

	sealed, err := o.Seal(FieldPayload, []byte(`{"title":"hi"}`))
	require.NoError(t, err)

	pt, err := o.Open(FieldPayload, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"hi"}`, string(pt))
}

func TestSealedOpener_BindsFieldAndDevice(t *testing.T) {
	o, err := NewSealedOpener([]byte("device-secret"), "device-1")
	require.NoError(t, err)
	sealed, err := o.Seal(FieldPayload, []byte("body"))
	require.NoError(t, err)

	_, err = o.Open(FieldCategory, sealed)
	assert.ErrorIs(t, err, ErrOpen)

	other, err := NewSealedOpener([]byte("device-secret"), "device-2")
	require.NoError(t, err)
	_, err = other.Open(FieldPayload, sealed)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = o.Open(FieldPayload, sealed[:4])
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSealedOpener_EmptySecret(t *testing.T) {
	_, err := NewSealedOpener(nil, "device-1")
	assert.Error(t, err)
}

func TestDecrypt_SealedEnvelope(t *testing.T) {
	o, err := NewSealedOpener([]byte("device-secret"), "device-1")
	require.NoError(t, err)
	d := newDecryptor(t, WithOpener(o))

	push, err := BuildEnvelope(contracts.CategoryUserDeviceAdded, map[string]any{
		"title":    "New device",
		"userInfo": map[string]any{"deviceId": "dev-9"},
	}, o)
	require.NoError(t, err)

	n, err := d.Decrypt(push)
	require.NoError(t, err)
	require.NotNil(t, n.RegistrationChanged)
	assert.Equal(t, "dev-9", n.RegistrationChanged.DeviceID)

	// A plain decryptor sees ciphertext where it expects a category.
	_, err = newDecryptor(t).Decrypt(push)
	assert.Error(t, err)
}
