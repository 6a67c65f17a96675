package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache implements Store with in-memory expiring entries
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// SetIfAbsent stores value only if key is missing or expired.
// Reports whether the value was stored.
func (c *MemoryCache) SetIfAbsent(key string, value []byte, ttl time.Duration) bool {
	return c.cache.Add(key, value, ttl) == nil
}
