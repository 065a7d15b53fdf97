package notification

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Opener recovers the cleartext of one base64-decoded envelope field.
type Opener interface {
	Open(field string, data []byte) ([]byte, error)
}

// PlainOpener returns its input unchanged. It matches pushes whose fields
// are plain base64 JSON.
type PlainOpener struct{}

func (PlainOpener) Open(_ string, data []byte) ([]byte, error) { return data, nil }

const sealedKDFSalt = "gpw-notification-kdf"

// SealedOpener opens fields sealed with XChaCha20-Poly1305 under a key
// derived from a device secret. Each sealed field is nonce || ciphertext and
// the field name is bound as associated data.
type SealedOpener struct {
	key []byte
}

// NewSealedOpener derives the per-device key for deviceID from secret.
func NewSealedOpener(secret []byte, deviceID string) (*SealedOpener, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("notification: empty device secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, []byte(sealedKDFSalt), []byte(deviceID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("notification: derive key: %w", err)
	}
	return &SealedOpener{key: key}, nil
}

func (o *SealedOpener) Open(field string, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(o.key)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: %s too short", ErrOpen, field)
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(field))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOpen, field)
	}
	return pt, nil
}

// Seal is the inverse of Open.
func (o *SealedOpener) Seal(field string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(o.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(field)), nil
}
