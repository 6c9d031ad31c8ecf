// Package tilestore puts the session cache in front of the fetcher. Fetch
// failures become cached absences; they are never returned to callers.
package tilestore

import (
	"context"
	"image"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"golupatwari/internal/cache"
	"golupatwari/internal/fetcher"
	"golupatwari/internal/tilegrid"
)

// Stats counts store activity since creation.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Fetches  int64 `json:"fetches"`
	Failures int64 `json:"failures"`
	Entries  int   `json:"entries"`
}

type Store struct {
	sourceURL string
	cache     cache.Cache
	fetcher   fetcher.Fetcher
	logger    *zap.Logger
	inflight  singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	fetches  atomic.Int64
	failures atomic.Int64
}

func New(sourceURL string, tileCache cache.Cache, f fetcher.Fetcher, logger *zap.Logger) *Store {
	return &Store{
		sourceURL: tilegrid.TrimURL(sourceURL),
		cache:     tileCache,
		fetcher:   f,
		logger:    logger,
	}
}

func (s *Store) SourceURL() string {
	return s.sourceURL
}

// Get returns tile (level, row, col), or nil when it is unavailable. Row and
// col are clamped to the grid first, so out-of-range requests alias to the
// nearest edge tile. Concurrent misses on one key share a single fetch.
func (s *Store) Get(ctx context.Context, level, row, col int) image.Image {
	row, col = tilegrid.ClampTile(level, row, col)
	key := cache.TileKey{SourceURL: s.sourceURL, Level: level, Row: row, Col: col}

	if entry, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		return entry.Image
	}
	s.misses.Add(1)

	// The fetch outlives any single waiter; only the fetch timeout bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	v, _, _ := s.inflight.Do(key.String(), func() (interface{}, error) {
		if entry, ok := s.cache.Get(key); ok {
			return entry, nil
		}

		s.fetches.Add(1)
		img, err := s.fetcher.Fetch(fetchCtx, s.sourceURL, level, row, col)
		if err != nil {
			s.failures.Add(1)
			s.logger.Debug("tile unavailable",
				zap.Int("level", level),
				zap.Int("row", row),
				zap.Int("col", col),
				zap.Error(err),
			)
			img = nil
		}

		entry := cache.Entry{Image: img}
		s.cache.Set(key, entry)
		return entry, nil
	})

	return v.(cache.Entry).Image
}

// Has reports whether tile (level, row, col) already has a cached result.
func (s *Store) Has(level, row, col int) bool {
	row, col = tilegrid.ClampTile(level, row, col)
	return s.cache.Has(cache.TileKey{SourceURL: s.sourceURL, Level: level, Row: row, Col: col})
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
		Fetches:  s.fetches.Load(),
		Failures: s.failures.Load(),
		Entries:  s.cache.Len(),
	}
}

// Close drops every cached entry and releases cache resources.
func (s *Store) Close() {
	s.cache.Clear()
	cache.Close(s.cache)
}
