package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/signal"
)

// RedisStore keeps each record as a JSON document and publishes the key
// on a channel of the same name after every effective change.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		logger: slog.Default().With("component", "store.redis"),
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// RedisKey is the document key, also used as the change channel.
func RedisKey(k Key) string {
	return fmt.Sprintf("users:%s:notificationTokens:%s", k.UserID, k.TokenID)
}

type redisDocument struct {
	Record      contracts.RegistrationRecord `json:"record"`
	Fingerprint string                       `json:"fingerprint"`
}

func (s *RedisStore) load(ctx context.Context, key Key) (redisDocument, error) {
	raw, err := s.client.Get(ctx, RedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisDocument{}, ErrNotFound
	}
	if err != nil {
		return redisDocument{}, fmt.Errorf("redis get: %w", err)
	}
	var doc redisDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return redisDocument{}, fmt.Errorf("decode record %s: %w", key.Path(), err)
	}
	return doc, nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (contracts.RegistrationRecord, error) {
	if err := key.Validate(); err != nil {
		return contracts.RegistrationRecord{}, err
	}
	doc, err := s.load(ctx, key)
	if err != nil {
		return contracts.RegistrationRecord{}, err
	}
	return doc.Record, nil
}

func (s *RedisStore) Upsert(ctx context.Context, key Key, rec contracts.RegistrationRecord) error {
	if err := key.Validate(); err != nil {
		return err
	}
	fp, err := Fingerprint(rec)
	if err != nil {
		return err
	}
	existing, err := s.load(ctx, key)
	if err == nil && existing.Fingerprint == fp {
		s.logger.DebugContext(ctx, "record unchanged", "key", RedisKey(key))
		return nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "overwriting unreadable record", "key", RedisKey(key), "error", err)
	}

	raw, err := json.Marshal(redisDocument{Record: rec, Fingerprint: fp})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	k := RedisKey(key)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, k, raw, 0)
	pipe.Publish(ctx, k, "upsert")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert: %w", err)
	}
	return nil
}

// Delete is idempotent.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	k := RedisKey(key)
	n, err := s.client.Del(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	if n > 0 {
		if err := s.client.Publish(ctx, k, "delete").Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Watch(ctx context.Context, key Key, fn Listener) (signal.Subscription, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ps := s.client.Subscribe(ctx, RedisKey(key))
	// Wait for the subscription confirmation so no change published after
	// the initial read is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	deliver(ctx, s, key, fn)

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := ps.Channel()
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver(watchCtx, s, key, fn)
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			if err := ps.Close(); err != nil {
				s.logger.Debug("pubsub close", "error", err)
			}
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return subscriptionFunc(func() {
		stop()
		unsubscribe()
	}), nil
}
