// Package store holds the backend registration records keyed by
// (userId, tokenId) and delivers snapshot updates for a single record.
//
// Backends:
//   - MemoryStore: in-process, synchronous listeners
//   - PostgresStore: notification_tokens table, LISTEN/NOTIFY snapshots
//   - RedisStore: JSON documents, pub/sub snapshots
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

var (
	ErrNotFound   = errors.New("store: record not found")
	ErrInvalidKey = errors.New("store: user id and token id are required")
)

// Key addresses one record.
type Key struct {
	UserID  string
	TokenID string
}

func (k Key) Validate() error {
	if k.UserID == "" || k.TokenID == "" {
		return ErrInvalidKey
	}
	return nil
}

// Path is the document path of the record.
func (k Key) Path() string {
	return fmt.Sprintf("users/%s/notificationTokens/%s", k.UserID, k.TokenID)
}

// Listener receives snapshots for a watched key. rec is nil when the
// record does not exist. A non-nil err reports a failed read; the
// subscription stays open.
type Listener func(rec *contracts.RegistrationRecord, err error)

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key Key) (contracts.RegistrationRecord, error)
	Upsert(ctx context.Context, key Key, rec contracts.RegistrationRecord) error
	Delete(ctx context.Context, key Key) error
	// Watch delivers the current snapshot, then one snapshot per change,
	// until the subscription is cancelled or ctx is done.
	Watch(ctx context.Context, key Key, fn Listener) (signal.Subscription, error)
}

// Fingerprint is the SHA-256 of the record's canonical JSON form. Two
// records with equal fingerprints are the same document.
func Fingerprint(rec contracts.RegistrationRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// subscriptionFunc adapts a func to signal.Subscription.
type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
