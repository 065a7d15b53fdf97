package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Default function regions, one per remote procedure.
const (
	DefaultInsertOrUpdateRegion = "europe-west3"
	DefaultDeleteRegion         = "europe-west1"
)

// Store backends selectable through GPW_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds the runtime configuration of the core.
type Config struct {
	UserID string

	FunctionsURL         string
	InsertOrUpdateRegion string
	DeleteRegion         string

	StaleAfter    time.Duration
	WriteInterval time.Duration
	WriteBurst    int
	VoIPDeadline  time.Duration

	IdentityDB          string
	ProvisioningProfile string

	Store       string
	DatabaseURL string
	RedisAddr   string

	OTLPEndpoint string
	LogLevel     string
}

// Load loads configuration from environment variables. Unparseable values
// fall back to their defaults.
func Load() *Config {
	cfg := &Config{
		UserID:               os.Getenv("GPW_USER_ID"),
		FunctionsURL:         envOr("GPW_FUNCTIONS_URL", "http://localhost:5001/gp-webrtc"),
		InsertOrUpdateRegion: DefaultInsertOrUpdateRegion,
		DeleteRegion:         DefaultDeleteRegion,
		StaleAfter:           envDuration("GPW_STALENESS", 7*24*time.Hour),
		WriteInterval:        envDuration("GPW_WRITE_INTERVAL", 10*time.Second),
		WriteBurst:           envInt("GPW_WRITE_BURST", 3),
		VoIPDeadline:         envDuration("GPW_VOIP_DEADLINE", 2*time.Second),
		IdentityDB:           os.Getenv("GPW_IDENTITY_DB"),
		ProvisioningProfile:  os.Getenv("GPW_PROVISIONING_PROFILE"),
		Store:                envOr("GPW_STORE", StoreMemory),
		DatabaseURL:          envOr("GPW_DATABASE_URL", "postgres://gpw@localhost:5432/gpw?sslmode=disable"),
		RedisAddr:            envOr("GPW_REDIS_ADDR", "localhost:6379"),
		OTLPEndpoint:         os.Getenv("GPW_OTLP_ENDPOINT"),
		LogLevel:             envOr("LOG_LEVEL", "INFO"),
	}

	// A single region override applies to both functions.
	if region := os.Getenv("GPW_FUNCTIONS_REGION"); region != "" {
		cfg.InsertOrUpdateRegion = region
		cfg.DeleteRegion = region
	}
	return cfg
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}
