// Package recency provides the fixed capacity, least recently used key/value
// store the node cache is built on.
package recency

import (
	"errors"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var ErrBadCapacity = errors.New("recency: capacity must be positive")

// Cache is a fixed capacity LRU. It never evicts on its own: callers that
// need to recycle the victim's value ask for Oldest, Remove it, then Put.
// A Put into a full cache evicts the oldest entry.
//
// Cache is not safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru      *simplelru.LRU[K, V]
	capacity int
}

func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, ErrBadCapacity
	}
	lru, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{lru: lru, capacity: capacity}, nil
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }

// Peek returns the value for key without changing its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) { return c.lru.Peek(key) }

// Put adds or replaces key. It reports whether an entry was evicted to make
// room.
func (c *Cache[K, V]) Put(key K, value V) bool { return c.lru.Add(key, value) }

// Remove deletes key, reporting whether it was present.
func (c *Cache[K, V]) Remove(key K) bool { return c.lru.Remove(key) }

func (c *Cache[K, V]) Len() int      { return c.lru.Len() }
func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Oldest returns the key that would be evicted next.
func (c *Cache[K, V]) Oldest() (K, bool) {
	k, _, ok := c.lru.GetOldest()
	return k, ok
}

// Keys returns the keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K { return c.lru.Keys() }

func (c *Cache[K, V]) Purge() { c.lru.Purge() }
