package cache

import "sync"

// SessionCache is an append-only memo of fetch results. Entries are never
// evicted; the cache lives exactly as long as the overlay that owns it.
type SessionCache struct {
	mu    sync.RWMutex
	items map[TileKey]Entry
}

func NewSessionCache() *SessionCache {
	return &SessionCache{
		items: make(map[TileKey]Entry),
	}
}

func (c *SessionCache) Get(key TileKey) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	return e, ok
}

func (c *SessionCache) Set(key TileKey, value Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = value
}

func (c *SessionCache) Has(key TileKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[key]
	return ok
}

func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[TileKey]Entry)
}
