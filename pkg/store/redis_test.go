package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

// TestRedisStore_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisStore_Integration(t *testing.T) {
	s := NewRedisStore("localhost:6379", "", 0)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	key := Key{UserID: "test-user", TokenID: uuid.NewString()}
	defer func() { _ = s.Delete(ctx, key) }()

	snapshots := make(chan *contracts.RegistrationRecord, 4)
	sub, err := s.Watch(ctx, key, func(rec *contracts.RegistrationRecord, err error) {
		assert.NoError(t, err)
		snapshots <- rec
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	assert.Nil(t, <-snapshots)

	require.NoError(t, s.Upsert(ctx, key, sampleRecord()))
	select {
	case rec := <-snapshots:
		require.NotNil(t, rec)
		assert.Equal(t, sampleRecord().APNSToken, rec.APNSToken)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after upsert")
	}

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.ModificationDate.Equal(sampleRecord().ModificationDate))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
