package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const defaultCleanup = 10 * time.Minute

// MemoryCache is an expiring in-process byte cache
type MemoryCache struct {
	cache *gocache.Cache
	Stats Stats
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	c.Stats.record(found)
	if !found {
		return nil, false
	}
	return val.([]byte), true
}

// Set stores a value; ttl 0 uses the cache default
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values from the cache
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}

// Memo memoizes typed values in process memory.
// Values are shared between callers and must be treated as read-only.
type Memo[T any] struct {
	cache *gocache.Cache
	Stats Stats
}

// NewMemo creates a memo whose entries live for ttl (0 = forever)
func NewMemo[T any](ttl time.Duration) *Memo[T] {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Memo[T]{cache: gocache.New(ttl, defaultCleanup)}
}

// Get returns the memoized value for key
func (m *Memo[T]) Get(key string) (T, bool) {
	var zero T
	val, found := m.cache.Get(key)
	m.Stats.record(found)
	if !found {
		return zero, false
	}
	typed, ok := val.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set memoizes value under key
func (m *Memo[T]) Set(key string, value T) {
	m.cache.SetDefault(key, value)
}

// Forget drops key
func (m *Memo[T]) Forget(key string) {
	m.cache.Delete(key)
}

// GetOrLoad returns the memoized value or calls load and remembers its result.
// Failed loads are not memoized.
func (m *Memo[T]) GetOrLoad(key string, load func() (T, error)) (T, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	m.Set(key, v)
	return v, nil
}
