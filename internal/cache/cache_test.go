package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestInMemoryCache_SetAndGet(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("[]"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "[]" {
		t.Fatalf("expected '[]', got %q", val)
	}

	val[0] = 'x'
	again, _ := c.Get(ctx, "k")
	if string(again) != "[]" {
		t.Fatal("Get must return a copy")
	}
}

func TestInMemoryCache_Missing(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()

	if _, err := c.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ok, _ := c.Exists(ctx, "k"); !ok {
		t.Fatal("expected key to exist")
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestInMemoryCache_MaxEntries(t *testing.T) {
	c := NewInMemoryCache(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Second)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	c.Set(ctx, "c", []byte("3"), time.Hour)

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if ok, _ := c.Exists(ctx, "a"); ok {
		t.Fatal("entry closest to expiry should have been dropped")
	}
}

func TestInMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewInMemoryCache(0)
	c.Close()
	c.Close()
	if err := c.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set after Close failed: %v", err)
	}
	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatal("closed cache should not store entries")
	}
}

func TestTieredCache_L2Fallthrough(t *testing.T) {
	l1 := NewInMemoryCache(0)
	l2 := NewInMemoryCache(0)
	tc := NewTieredCache(l1, l2, 10*time.Second)
	defer tc.Close()
	ctx := context.Background()

	if err := l2.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("L2 Set failed: %v", err)
	}
	val, err := tc.Get(ctx, "k")
	if err != nil || string(val) != "v" {
		t.Fatalf("Get = %q, %v", val, err)
	}
	if ok, _ := l1.Exists(ctx, "k"); !ok {
		t.Fatal("L2 hit should populate L1")
	}

	if err := tc.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := tc.Exists(ctx, "k"); ok {
		t.Fatal("Delete should clear both tiers")
	}
}

// unreachable stands in for a shared tier that is down.
type unreachable struct{}

var errUnreachable = errors.New("dial tcp: connection refused")

func (unreachable) Get(context.Context, string) ([]byte, error) { return nil, errUnreachable }
func (unreachable) Set(context.Context, string, []byte, time.Duration) error {
	return errUnreachable
}
func (unreachable) Delete(context.Context, string) error         { return errUnreachable }
func (unreachable) Exists(context.Context, string) (bool, error) { return false, errUnreachable }
func (unreachable) Ping(context.Context) error                   { return errUnreachable }
func (unreachable) Close() error                                 { return nil }

func TestTieredCache_SharedTierDown(t *testing.T) {
	l1 := NewInMemoryCache(0)
	tc := NewTieredCache(l1, unreachable{}, 10*time.Second)
	defer tc.Close()
	ctx := context.Background()

	if err := tc.Set(ctx, "k", []byte("[]"), time.Minute); !errors.Is(err, errUnreachable) {
		t.Fatalf("Set error = %v, want the shared tier failure", err)
	}
	val, err := tc.Get(ctx, "k")
	if err != nil || string(val) != "[]" {
		t.Fatalf("local copy not served: %q, %v", val, err)
	}
	if _, err := tc.Get(ctx, "other"); !errors.Is(err, errUnreachable) {
		t.Fatalf("miss error = %v", err)
	}
	if err := tc.Ping(ctx); err == nil {
		t.Fatal("Ping must report the shared tier")
	}
}

func TestTieredCache_L1NeverOutlivesEntry(t *testing.T) {
	l1 := NewInMemoryCache(0)
	l2 := NewInMemoryCache(0)
	tc := NewTieredCache(l1, l2, time.Hour)
	defer tc.Close()
	ctx := context.Background()

	if err := tc.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := tc.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry still served: %v", err)
	}
}

func TestKey(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Fatal("keys must not collide on part boundaries")
	}
	if Key("nearest", "text") != Key("nearest", "text") {
		t.Fatal("keys must be deterministic")
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("CIMWEB_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	c := NewRedisCache(RedisConfig{Addr: addr, KeyPrefix: "cimweb-test:"})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	if err := c.Set(ctx, "k", []byte("[]"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "k")
	if err != nil || string(val) != "[]" {
		t.Fatalf("Get = %q, %v", val, err)
	}
	c.Delete(ctx, "k")
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
