package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryCache keeps entries in a map. When MaxEntries is reached the
// entry closest to expiry is dropped to make room.
type InMemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memEntry
	maxEntries int
	stop       chan struct{}
	closeOnce  sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewInMemoryCache returns an empty cache. maxEntries <= 0 means unbounded.
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	c := &InMemoryCache{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.evictLoop(30 * time.Second)
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		return nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.dropOneLocked()
	}
	c.entries[key] = memEntry{value: append([]byte(nil), value...), expiresAt: expiresAt}
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *InMemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return ok && !e.expired(time.Now()), nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *InMemoryCache) Ping(_ context.Context) error { return nil }

func (c *InMemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.entries = nil
		c.mu.Unlock()
	})
	return nil
}

// dropOneLocked removes an expired entry if there is one, otherwise the
// entry that expires first. Entries without TTL go last.
func (c *InMemoryCache) dropOneLocked() {
	now := time.Now()
	var victim string
	var victimAt time.Time
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			return
		}
		if victim == "" || (!e.expiresAt.IsZero() && (victimAt.IsZero() || e.expiresAt.Before(victimAt))) {
			victim, victimAt = k, e.expiresAt
		}
	}
	delete(c.entries, victim)
}

func (c *InMemoryCache) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
