package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the small byte-oriented cache the gateway uses for signal sets
// and other collaborator-derived data. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryCache is an in-process TTL cache. It is the default backend and the
// fallback when Redis is not configured.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem

	stopOnce sync.Once
	stop     chan struct{}
}

type memoryItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryCache creates a memory cache with a background cleanup loop.
func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		items: make(map[string]memoryItem),
		stop:  make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc
}

// Get returns the cached value if present and unexpired.
func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	mc.mu.RLock()
	item, ok := mc.items[key]
	mc.mu.RUnlock()

	if !ok || time.Now().After(item.expiration) {
		return nil, false, nil
	}
	return item.value, true, nil
}

// Set stores a value with the given TTL.
func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	mc.mu.Lock()
	mc.items[key] = memoryItem{value: value, expiration: time.Now().Add(ttl)}
	mc.mu.Unlock()
	return nil
}

// Delete removes a key.
func (mc *MemoryCache) Delete(_ context.Context, key string) error {
	mc.mu.Lock()
	delete(mc.items, key)
	mc.mu.Unlock()
	return nil
}

// Close stops the cleanup loop.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stop:
			return
		}
	}
}

func (mc *MemoryCache) cleanup() {
	now := time.Now()
	mc.mu.Lock()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
	mc.mu.Unlock()
}
