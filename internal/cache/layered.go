package cache

import (
	"errors"
	"time"
)

// LayeredCache fronts the disk page cache with a memory layer.
// Stats count one lookup per Get, whichever layer answers it.
type LayeredCache struct {
	memory    *MemoryCache
	disk      *DiskCache
	memoryTTL time.Duration
	stats     Stats
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory:    NewMemoryCache(memoryTTL, defaultCleanup),
		disk:      NewDiskCache(diskDir, diskTTL),
		memoryTTL: memoryTTL,
	}
}

// Get checks memory, then disk. A disk hit is promoted to memory for no longer
// than the page has left on disk.
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		c.stats.record(true)
		return val, true
	}

	entry, found := c.disk.lookup(key)
	c.stats.record(found)
	if !found {
		return nil, false
	}
	if ttl := c.promotionTTL(entry.ExpiresAt); ttl > 0 {
		_ = c.memory.Set(key, entry.Data, ttl)
	}
	return entry.Data, true
}

func (c *LayeredCache) promotionTTL(expiresAt time.Time) time.Duration {
	left := expiresAt.Sub(c.disk.now())
	if c.memoryTTL > 0 && c.memoryTTL < left {
		return c.memoryTTL
	}
	return left
}

// Set stores a page in both layers; ttl 0 uses each layer's default
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

// Delete removes a page from both layers
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.disk.Delete(key))
}

// Clear empties both layers
func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.disk.Clear())
}

// Stats returns lookup counters across both layers
func (c *LayeredCache) Stats() *Stats {
	return &c.stats
}

// Prune removes expired disk entries
func (c *LayeredCache) Prune() (int, error) {
	return c.disk.Prune()
}
