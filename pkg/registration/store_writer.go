package registration

import (
	"context"
	"time"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/store"
)

// StoreWriter writes records straight into a store, stamping the
// modification date the way the backend function does.
type StoreWriter struct {
	Store store.Store
	Now   func() time.Time
}

func (w StoreWriter) InsertOrUpdate(ctx context.Context, userID, tokenID string, rec contracts.RegistrationRecord) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	rec.ModificationDate = now().UTC()
	return w.Store.Upsert(ctx, store.Key{UserID: userID, TokenID: tokenID}, rec)
}

func (w StoreWriter) Delete(ctx context.Context, userID, tokenID string) error {
	return w.Store.Delete(ctx, store.Key{UserID: userID, TokenID: tokenID})
}
