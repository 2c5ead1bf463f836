package cache

import (
	"sync"
	"time"
)

type item struct {
	value     any
	expiresAt time.Time
}

// SimpleCache is a TTL map used by service cache middlewares.
type SimpleCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]item
}

func NewSimpleCache(ttl time.Duration) *SimpleCache {
	return &SimpleCache{
		ttl:   ttl,
		items: make(map[string]item),
	}
}

func (c *SimpleCache) Get(key string) (any, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(it.expiresAt) {
		return nil, false
	}

	return it.value, true
}

func (c *SimpleCache) Set(key string, value any) {
	c.mu.Lock()
	c.items[key] = item{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *SimpleCache) Release(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
