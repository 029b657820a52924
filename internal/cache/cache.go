// Package cache stores rendered invocation outputs. Backends are an
// in-process map, Redis, or both stacked as two tiers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache is a byte-valued key store with TTL support. Implementations are
// safe for concurrent use.
type Cache interface {
	// Get returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string // memory, redis, tiered
	MaxEntries int
	Redis      RedisConfig
	L1TTL      time.Duration
}

// New builds the cache described by cfg.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewInMemoryCache(cfg.MaxEntries), nil
	case "redis":
		return NewRedisCache(cfg.Redis), nil
	case "tiered":
		return NewTieredCache(NewInMemoryCache(cfg.MaxEntries), NewRedisCache(cfg.Redis), cfg.L1TTL), nil
	}
	return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
}

// Key derives a fixed-length cache key from its parts. Parts are length
// prefixed so that ("ab","c") and ("a","bc") differ.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
