package embed

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is an in-memory LRU of vectors keyed by chunk content hash. An
// unchanged chunk that reappears (file moved, folder re-registered) skips
// the backend entirely.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get retrieves a copy of a cached vector. Copies prevent caller
// mutations from reaching the cache.
func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector under a content-hash key.
func (c *Cache) Set(key string, v []float32) {
	stored := make([]float32, len(v))
	copy(stored, v)
	c.cache.Add(key, stored)
}

// Len returns the current cache size.
func (c *Cache) Len() int {
	return c.cache.Len()
}
