// Package cache provides a bounded, TTL-aware FIFO cache used for the
// retrieval pipeline's hot-set and rewrite caches, mirroring the mutex-
// guarded registry pattern the rest of this codebase uses for shared
// in-process state.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// FIFO is a bounded cache that evicts the oldest entry on overflow and
// treats expired entries as misses without requiring a sweep goroutine.
type FIFO struct {
	mu       sync.Mutex
	maxItems int
	ttl      time.Duration
	order    *list.List
	items    map[string]*entry
}

// New creates a FIFO cache bounded to maxItems entries, each valid for ttl.
// A zero ttl means entries never expire on their own (only FIFO eviction applies).
func New(maxItems int, ttl time.Duration) *FIFO {
	if maxItems <= 0 {
		maxItems = 1
	}
	return &FIFO{
		maxItems: maxItems,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*entry),
	}
}

// Get returns the cached value for key, or (nil, false) on miss or expiry.
func (c *FIFO) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.order.Remove(e.elem)
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry if the cache is full.
func (c *FIFO) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		if c.ttl > 0 {
			existing.expiresAt = time.Now().Add(c.ttl)
		}
		c.order.MoveToBack(existing.elem)
		return
	}

	if len(c.items) >= c.maxItems {
		oldest := c.order.Front()
		if oldest != nil {
			oe := oldest.Value.(*entry)
			c.order.Remove(oldest)
			delete(c.items, oe.key)
		}
	}

	e := &entry{key: key, value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	e.elem = c.order.PushBack(e)
	c.items[key] = e
}

// Len returns the number of entries currently stored, expired or not.
func (c *FIFO) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
