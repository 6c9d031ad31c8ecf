package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NewCache creates a cache instance based on the cache type
func NewCache(cacheType string, cacheMemoryTiles int, ttl time.Duration, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "", "session":
		log.Debug("Using session cache")
		return NewSessionCache(), nil
	case "memory":
		log.Debug("Using memory cache", zap.Int("max_tiles", cacheMemoryTiles), zap.Duration("ttl", ttl))
		return NewMemoryCache(cacheMemoryTiles, ttl), nil
	case "disabled":
		log.Debug("Cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: session, memory, disabled)", cacheType)
	}
}

// Close stops background work held by c, if any.
func Close(c Cache) {
	if s, ok := c.(interface{ Stop() }); ok {
		s.Stop()
	}
}
