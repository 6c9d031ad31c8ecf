package cache

import (
	"fmt"
	"image"
)

// TileKey identifies one remote tile. Row and Col are expected to be
// clamped to the grid before a key is built.
type TileKey struct {
	SourceURL string
	Level     int
	Row       int
	Col       int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s|%d/%d/%d", k.SourceURL, k.Level, k.Row, k.Col)
}

// Entry is a cached fetch result: a decoded tile, or nil when the tile was
// unavailable. Absence is remembered so failing fetches are not repeated.
type Entry struct {
	Image image.Image
}

func (e Entry) Absent() bool {
	return e.Image == nil
}

type Cache interface {
	Get(key TileKey) (Entry, bool)
	Set(key TileKey, value Entry)
	Has(key TileKey) bool // Check presence without touching recency
	Len() int
	Clear()
}
