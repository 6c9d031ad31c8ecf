package cache

import (
	"time"

	"github.com/karlseguin/ccache/v3"
)

// noExpiry stands in for "never" when no TTL is configured.
const noExpiry = 100 * 365 * 24 * time.Hour

// MemoryCache is a bounded LRU cache with optional time-based expiry, for
// long-running processes where the session cache would grow without limit.
type MemoryCache struct {
	items *ccache.Cache[Entry]
	ttl   time.Duration
}

// NewMemoryCache creates a new in-memory LRU cache holding up to maxSize tiles
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = noExpiry
	}
	prune := uint32(maxSize / 10)
	if prune == 0 {
		prune = 1
	}

	return &MemoryCache{
		items: ccache.New(ccache.Configure[Entry]().MaxSize(int64(maxSize)).ItemsToPrune(prune)),
		ttl:   ttl,
	}
}

func (c *MemoryCache) Get(key TileKey) (Entry, bool) {
	item := c.items.Get(key.String())
	if item == nil || item.Expired() {
		return Entry{}, false
	}
	return item.Value(), true
}

func (c *MemoryCache) Set(key TileKey, value Entry) {
	c.items.Set(key.String(), value, c.ttl)
}

func (c *MemoryCache) Has(key TileKey) bool {
	item := c.items.GetWithoutPromote(key.String())
	return item != nil && !item.Expired()
}

func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

func (c *MemoryCache) Clear() {
	c.items.Clear()
}

// Stop releases the cache's background worker.
func (c *MemoryCache) Stop() {
	c.items.Stop()
}
