package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process LRU cache with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a memory cache holding at most maxEntries
// values for at most ttl each.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
	}
}

// Get reads a cached value.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores a value.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	c.lru.Add(key, value)
	return nil
}

// Close is a no-op for the memory backend.
func (c *MemoryCache) Close() error { return nil }
