package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying changed keys.
const NotifyChannel = "notification_tokens"

// Schema creates the record table.
const Schema = `
CREATE TABLE IF NOT EXISTS notification_tokens (
	user_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	apns_token TEXT NOT NULL,
	voip_token TEXT NOT NULL,
	environment TEXT NOT NULL,
	modification_date TIMESTAMPTZ NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (user_id, token_id)
);`

// Notifier is the subset of *pq.Listener used for snapshots.
type Notifier interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewListener opens a pq.Listener on dsn.
func NewListener(dsn string) *pq.Listener {
	logger := slog.Default().With("component", "store.postgres")
	return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", "event", ev, "error", err)
		}
	})
}

// PostgresStore keeps records in the notification_tokens table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	notifier Notifier
	watchers map[Key]map[uint64]Listener
	nextID   uint64
	started  bool
	done     chan struct{}
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:       db,
		logger:   slog.Default().With("component", "store.postgres"),
		watchers: make(map[Key]map[uint64]Listener),
		done:     make(chan struct{}),
	}
}

// WithNotifier enables change snapshots across processes. Without one,
// watchers only see writes made through this store.
func (s *PostgresStore) WithNotifier(n Notifier) *PostgresStore {
	s.notifier = n
	return s
}

// Migrate creates the table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate notification_tokens: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (contracts.RegistrationRecord, error) {
	if err := key.Validate(); err != nil {
		return contracts.RegistrationRecord{}, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT apns_token, voip_token, environment, modification_date FROM notification_tokens WHERE user_id = $1 AND token_id = $2",
		key.UserID, key.TokenID)

	var rec contracts.RegistrationRecord
	var env string
	err := row.Scan(&rec.APNSToken, &rec.VoIPToken, &env, &rec.ModificationDate)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.RegistrationRecord{}, ErrNotFound
	}
	if err != nil {
		return contracts.RegistrationRecord{}, fmt.Errorf("failed to get record: %w", err)
	}
	rec.Environment = contracts.Environment(env)
	rec.ModificationDate = rec.ModificationDate.UTC()
	return rec, nil
}

// Upsert writes rec unless the stored row already has the same
// fingerprint. Only effective writes are announced.
func (s *PostgresStore) Upsert(ctx context.Context, key Key, rec contracts.RegistrationRecord) error {
	if err := key.Validate(); err != nil {
		return err
	}
	fp, err := Fingerprint(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_tokens (user_id, token_id, apns_token, voip_token, environment, modification_date, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, token_id) DO UPDATE SET
			apns_token = EXCLUDED.apns_token,
			voip_token = EXCLUDED.voip_token,
			environment = EXCLUDED.environment,
			modification_date = EXCLUDED.modification_date,
			fingerprint = EXCLUDED.fingerprint
		WHERE notification_tokens.fingerprint <> EXCLUDED.fingerprint
	`
	res, err := s.db.ExecContext(ctx, query,
		key.UserID, key.TokenID, rec.APNSToken, rec.VoIPToken, string(rec.Environment), rec.ModificationDate.UTC(), fp)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.DebugContext(ctx, "record unchanged", "path", key.Path())
		return nil
	}
	return s.announce(ctx, key)
}

// Delete is idempotent.
func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notification_tokens WHERE user_id = $1 AND token_id = $2",
		key.UserID, key.TokenID)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return s.announce(ctx, key)
}

func (s *PostgresStore) announce(ctx context.Context, key Key) error {
	if s.notifier == nil {
		s.dispatch(ctx, key)
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, encodeKey(key)); err != nil {
		return fmt.Errorf("failed to notify change: %w", err)
	}
	return nil
}

func (s *PostgresStore) Watch(ctx context.Context, key Key, fn Listener) (signal.Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := s.start(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[uint64]Listener)
	}
	s.watchers[key][id] = fn
	s.mu.Unlock()

	deliver(ctx, s, key, fn)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[key], id)
			if len(s.watchers[key]) == 0 {
				delete(s.watchers, key)
			}
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return subscriptionFunc(func() {
		stop()
		cancel()
	}), nil
}

// Close stops the notification loop and closes the notifier.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	close(s.done)
	return s.notifier.Close()
}

func (s *PostgresStore) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifier == nil || s.started {
		return nil
	}
	if err := s.notifier.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	s.started = true
	go s.loop(s.notifier.NotificationChannel(), s.done)
	return nil
}

func (s *PostgresStore) loop(ch <-chan *pq.Notification, done <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case <-done:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			// nil after a reconnect: state may have been missed.
			if n == nil {
				s.refreshAll(ctx)
				continue
			}
			key, ok := decodeKey(n.Extra)
			if !ok {
				s.logger.Warn("ignoring malformed notification", "payload", n.Extra)
				continue
			}
			s.dispatch(ctx, key)
		}
	}
}

func (s *PostgresStore) refreshAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.watchers))
	for k := range s.watchers {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		s.dispatch(ctx, k)
	}
}

func (s *PostgresStore) dispatch(ctx context.Context, key Key) {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.watchers[key]))
	for _, fn := range s.watchers[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	for _, fn := range fns {
		deliver(ctx, s, key, fn)
	}
}

// deliver reads the key and hands the result to fn.
func deliver(ctx context.Context, s Store, key Key, fn Listener) {
	rec, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		fn(nil, nil)
	case err != nil:
		fn(nil, err)
	default:
		fn(&rec, nil)
	}
}

func encodeKey(k Key) string { return k.UserID + "/" + k.TokenID }

func decodeKey(s string) (Key, bool) {
	user, token, ok := strings.Cut(s, "/")
	if !ok || user == "" || token == "" {
		return Key{}, false
	}
	return Key{UserID: user, TokenID: token}, true
}
