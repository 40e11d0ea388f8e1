// Package cache provides the short-TTL lookup cache that keeps active-task
// derivations from hammering the remote store. It is process-local and
// advisory: safety-critical decisions must re-derive from the store.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTTL bounds how stale a cached derivation may be.
const DefaultTTL = 5 * time.Second

// Cache is a TTL'd key-value store. A stored zero value (e.g. a nil pointer
// standing for "no active task") is a hit, distinct from a miss; expired
// entries are swept in the background by the underlying LRU.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New builds a Cache holding up to size entries for at most ttl each.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value and whether it was present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores a value under key for the cache's TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Invalidate drops key immediately.
func (c *Cache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}

// Len reports the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
