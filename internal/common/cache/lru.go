package cache

import (
	"container/list"
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	value     bool
	expiresAt time.Time
}

// LRUCache is a process local LRU of boolean flags with TTL, used in front of
// Redis on hot-path checks.
type LRUCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LRUCache{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value and whether a live entry exists.
func (c *LRUCache) Get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false, false
	}
	entry := elem.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return false, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

// Set stores value; ttl 0 uses the cache default.
func (c *LRUCache) Set(key string, value bool, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.ttl
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = exp
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: exp})
	c.items[key] = elem
	if len(c.items) > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}
