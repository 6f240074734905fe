// Package cache implements the bounded LRU mirror of persisted messages used
// by the message store for read-through and write-through access.
//
// Entries are clones: callers never share memory with the cache, so a
// message returned by Get can be mutated freely.
package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// DefaultCapacity is the number of messages kept when no capacity is given.
const DefaultCapacity = 1000

// ErrInvalidCapacity is returned for non-positive capacities.
var ErrInvalidCapacity = errors.New("cache capacity must be > 0")

// MessageCache is an LRU keyed by message id. It is safe for concurrent use.
type MessageCache struct {
	mu       sync.Mutex // serializes compound mutations (update, room eviction)
	lru      *lru.Cache[string, *domain.Message]
	capacity atomic.Int64
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// New returns a cache holding at most capacity messages.
func New(capacity int) (*MessageCache, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	l, err := lru.New[string, *domain.Message](capacity)
	if err != nil {
		return nil, err
	}
	c := &MessageCache{lru: l}
	c.capacity.Store(int64(capacity))
	return c, nil
}

// Get returns a clone of the cached message and marks it most recently used.
func (c *MessageCache) Get(id string) (*domain.Message, bool) {
	m, ok := c.lru.Get(id)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return m.Clone(), true
}

// Contains reports whether id is cached without touching recency or stats.
func (c *MessageCache) Contains(id string) bool { return c.lru.Contains(id) }

// Put stores a clone of m, evicting the least recently used entry when full.
// It reports whether an eviction happened.
func (c *MessageCache) Put(m *domain.Message) (evicted bool) {
	if m == nil || m.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Add(m.ID, m.Clone())
}

// Update applies fn to a copy of the cached message and stores the result.
// It does nothing when id is not cached.
func (c *MessageCache) Update(id string, fn func(*domain.Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.lru.Peek(id)
	if !ok {
		return false
	}
	cp := m.Clone()
	fn(cp)
	c.lru.Add(id, cp)
	return true
}

// Remove drops id from the cache.
func (c *MessageCache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(id)
}

// RemoveWhere drops every cached message matching pred and returns how many
// were removed.
func (c *MessageCache) RemoveWhere(pred func(*domain.Message) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.lru.Keys() {
		if m, ok := c.lru.Peek(id); ok && pred(m) {
			c.lru.Remove(id)
			n++
		}
	}
	return n
}

// Clear empties the cache. Hit and miss counters are kept.
func (c *MessageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Resize changes the capacity, evicting the oldest entries if needed.
func (c *MessageCache) Resize(capacity int) (evicted int, err error) {
	if capacity <= 0 {
		return 0, ErrInvalidCapacity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity.Store(int64(capacity))
	return c.lru.Resize(capacity), nil
}

// Keys returns cached ids from least to most recently used.
func (c *MessageCache) Keys() []string { return c.lru.Keys() }

// Len returns the number of cached messages.
func (c *MessageCache) Len() int { return c.lru.Len() }

// Capacity returns the configured maximum size.
func (c *MessageCache) Capacity() int { return int(c.capacity.Load()) }

// Hits returns the number of Get calls that found an entry.
func (c *MessageCache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of Get calls that found nothing.
func (c *MessageCache) Misses() uint64 { return c.misses.Load() }

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (c *MessageCache) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// ResetStats zeroes the hit and miss counters.
func (c *MessageCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}
