package cache

// NoopCache remembers nothing; every lookup goes to the remote source.
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key TileKey) (Entry, bool) {
	return Entry{}, false
}

func (c *NoopCache) Set(key TileKey, value Entry) {
}

func (c *NoopCache) Has(key TileKey) bool {
	return false
}

func (c *NoopCache) Len() int {
	return 0
}

func (c *NoopCache) Clear() {
}
