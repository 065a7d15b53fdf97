package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

func sampleRecord() contracts.RegistrationRecord {
	return contracts.RegistrationRecord{
		APNSToken:        "aa01",
		VoIPToken:        "bb02",
		Environment:      contracts.EnvironmentProduction,
		ModificationDate: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := Key{UserID: "u1", TokenID: "t1"}

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upsert(ctx, key, sampleRecord()))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), got)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Upsert(ctx, Key{UserID: "u1"}, sampleRecord()), ErrInvalidKey)
}

func TestMemoryStore_Watch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := Key{UserID: "u1", TokenID: "t1"}

	var seen []*contracts.RegistrationRecord
	sub, err := s.Watch(ctx, key, func(rec *contracts.RegistrationRecord, err error) {
		require.NoError(t, err)
		seen = append(seen, rec)
	})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, key, sampleRecord()))
	require.NoError(t, s.Upsert(ctx, Key{UserID: "u1", TokenID: "other"}, sampleRecord()))
	require.NoError(t, s.Delete(ctx, key))
	sub.Unsubscribe()
	require.NoError(t, s.Upsert(ctx, key, sampleRecord()))

	require.Len(t, seen, 3)
	assert.Nil(t, seen[0], "initial snapshot of a missing record")
	require.NotNil(t, seen[1])
	assert.Equal(t, "aa01", seen[1].APNSToken)
	assert.Nil(t, seen[2])
}

func TestMemoryStore_WatchEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	key := Key{UserID: "u1", TokenID: "t1"}

	calls := 0
	_, err := s.Watch(ctx, key, func(*contracts.RegistrationRecord, error) { calls++ })
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.listeners) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Upsert(context.Background(), key, sampleRecord()))
	assert.Equal(t, 1, calls)
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(sampleRecord())
	require.NoError(t, err)
	b, err := Fingerprint(sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	changed := sampleRecord()
	changed.VoIPToken = "cc03"
	c, err := Fingerprint(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestKeyPaths(t *testing.T) {
	k := Key{UserID: "u1", TokenID: "t1"}
	assert.Equal(t, "users/u1/notificationTokens/t1", k.Path())
	assert.Equal(t, "users:u1:notificationTokens:t1", RedisKey(k))

	decoded, ok := decodeKey(encodeKey(k))
	require.True(t, ok)
	assert.Equal(t, k, decoded)
	_, ok = decodeKey("garbage")
	assert.False(t, ok)
}
