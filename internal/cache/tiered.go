package cache

import (
	"context"
	"errors"
	"time"

	"github.com/iut62elec/CIMApplication/internal/metrics"
)

// TieredCache keeps recently rendered outputs in process (L1) in front of a
// store shared by every gateway instance (L2). An L1 entry never outlives
// the L2 entry it mirrors and is capped at l1TTL, so a purge on another
// instance shows up here within l1TTL.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration
}

// NewTieredCache stacks l1 over l2. l1TTL defaults to 10s.
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get serves from L1, then L2. An L2 hit is copied into L1.
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := t.l1.Get(ctx, key); err == nil {
		metrics.RecordCacheTier("l1")
		return val, nil
	}
	val, err := t.l2.Get(ctx, key)
	switch {
	case err == nil:
		metrics.RecordCacheTier("l2")
	case errors.Is(err, ErrNotFound):
		return nil, err
	default:
		metrics.RecordCacheTier("l2_error")
		return nil, err
	}
	_ = t.l1.Set(ctx, key, val, t.l1TTL)
	return val, nil
}

// Set writes both tiers. The L1 copy is kept even when L2 is unreachable so
// this instance still avoids repeat invocations; the L2 error is returned.
func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := t.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	_ = t.l1.Set(ctx, key, value, l1TTL)
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		metrics.RecordCacheTier("l2_error")
		return err
	}
	return nil
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	return errors.Join(t.l1.Delete(ctx, key), t.l2.Delete(ctx, key))
}

func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, err := t.l1.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

// Ping reports the shared tier; the in-process tier cannot fail.
func (t *TieredCache) Ping(ctx context.Context) error {
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	return errors.Join(t.l1.Close(), t.l2.Close())
}
