package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/config"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/functions"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/identity"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/observability"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/registration"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/store"
)

// applyProfile overlays the named client profile, if any, onto cfg.
func applyProfile(cfg *config.Config, dir, name string) error {
	if name == "" {
		return nil
	}
	p, err := config.LoadProfile(dir, name)
	if err != nil {
		return err
	}
	p.Apply(cfg)
	return nil
}

func openObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	if cfg.OTLPEndpoint == "" {
		return observability.Nop(), nil
	}
	oc := observability.DefaultConfig()
	oc.ServiceName = "gpw"
	oc.ServiceVersion = version
	oc.Endpoint = cfg.OTLPEndpoint
	return observability.New(ctx, oc)
}

// openIdentity uses the SQLite store when GPW_IDENTITY_DB is set, memory
// otherwise.
func openIdentity(ctx context.Context, cfg *config.Config) (*identity.Tracker, func(), error) {
	if cfg.IdentityDB == "" {
		t, err := identity.NewTracker(ctx, identity.NewMemoryStore(identity.Identity{}))
		return t, func() {}, err
	}
	s, err := identity.OpenSQLiteStore(cfg.IdentityDB)
	if err != nil {
		return nil, nil, err
	}
	t, err := identity.NewTracker(ctx, s)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return t, func() { _ = s.Close() }, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), func() {}, nil
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		s := store.NewPostgresStore(db).WithNotifier(store.NewListener(cfg.DatabaseURL))
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() {
			_ = s.Close()
			_ = db.Close()
		}, nil
	case config.StoreRedis:
		s := store.NewRedisStore(cfg.RedisAddr, os.Getenv("GPW_REDIS_PASSWORD"), 0)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// newWriter selects where registration writes go: straight into the
// store, or through the backend functions.
func newWriter(kind string, cfg *config.Config, s store.Store, obs *observability.Provider) (registration.Writer, error) {
	switch kind {
	case "store":
		return registration.StoreWriter{Store: s}, nil
	case "functions":
		return functions.NewClient(functions.Options{
			BaseURL:              cfg.FunctionsURL,
			InsertOrUpdateRegion: cfg.InsertOrUpdateRegion,
			DeleteRegion:         cfg.DeleteRegion,
			Tokens:               functions.StaticToken(os.Getenv("GPW_ID_TOKEN")),
			Observability:        obs,
		}), nil
	default:
		return nil, fmt.Errorf("unknown writer %q", kind)
	}
}

func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.WriteInterval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(cfg.WriteInterval), cfg.WriteBurst)
}

func shutdown(p *observability.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.Shutdown(ctx)
}
