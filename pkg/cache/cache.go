// Package cache provides a generic TTL key-value cache used to memoize
// historical factor lookups. Correctness never depends on cache presence:
// callers treat every error as a miss and recompute.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is a TTL-based key-value store. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get unmarshals the cached value for key into dest. It returns false
	// when the key is absent or expired.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value under key for the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-process Cache backed by a mutex-guarded map. It is the
// default for tests and single-process deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Cache. Values round-trip through JSON so in-memory and
// Redis-backed caches behave identically.
func (mc *MemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	mc.mu.RLock()
	entry, ok := mc.entries[key]
	mc.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && mc.now().After(entry.expiresAt) {
		mc.mu.Lock()
		delete(mc.entries, key)
		mc.mu.Unlock()
		return false, nil
	}

	raw, err := json.Marshal(entry.value)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache.
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = mc.now().Add(ttl)
	}

	mc.mu.Lock()
	mc.entries[key] = entry
	mc.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	delete(mc.entries, key)
	mc.mu.Unlock()
	return nil
}

// Len returns the number of live entries, expired ones included until read.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.entries)
}

// SetClock overrides the time source, for tests.
func (mc *MemoryCache) SetClock(now func() time.Time) {
	mc.mu.Lock()
	mc.now = now
	mc.mu.Unlock()
}

// NopCache is a Cache that stores nothing. Useful when callers must always
// recompute, e.g. in deterministic replay scenarios.
type NopCache struct{}

// Get implements Cache; always a miss.
func (NopCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

// Set implements Cache; discards the value.
func (NopCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

// Delete implements Cache.
func (NopCache) Delete(ctx context.Context, key string) error {
	return nil
}
