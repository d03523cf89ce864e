// Package cache keeps scraped pages and restored models between runs.
//
// Pages go through a two-level byte cache (go-cache in memory, JSON files on
// disk). Restored models are memoized in memory only, keyed by provider and
// schema so a retrained model never collides with a stale one.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
)

const keyPrefix = "outagelens:v1:"

// Cache defines the interface for byte caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// PageKey generates a cache key for a fetched URL
func PageKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return keyPrefix + "page:" + hex.EncodeToString(hash[:])
}

// ModelKey generates a cache key for a provider's model under one schema
func ModelKey(provider model.Provider, schemaID string) string {
	return keyPrefix + "model:" + string(provider) + ":" + schemaID
}

// Stats counts lookups
type Stats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (s *Stats) record(hit bool) {
	if hit {
		s.hits.Add(1)
		return
	}
	s.misses.Add(1)
}

// Hits returns the number of successful lookups
func (s *Stats) Hits() int64 { return s.hits.Load() }

// Misses returns the number of failed lookups
func (s *Stats) Misses() int64 { return s.misses.Load() }

// Nop is a cache that stores nothing. It is used when caching is disabled.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)               { return nil, false }
func (Nop) Set(string, []byte, time.Duration) error { return nil }
func (Nop) Delete(string) error                     { return nil }
func (Nop) Clear() error                            { return nil }

// FromConfig builds the page cache described by cfg
func FromConfig(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
}
