// Package tilegrid maps (level, row, col) tile addresses onto a power-of-two
// grid anchored at a fixed origin, using a per-level resolution table.
package tilegrid

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
)

// TileSize is the edge length, in pixels, of every tile in the grid.
const TileSize = 256

// MaxLevel is the deepest addressable level. Deeper levels overflow the
// index arithmetic.
const MaxLevel = 30

var ErrLevelNotFound = errors.New("level not found in tile info")

var validate = validator.New(validator.WithRequiredStructEnabled())

// LevelInfo is one entry of the level of detail table.
type LevelInfo struct {
	Level      int     `json:"level" validate:"gte=0,lte=30"`
	Resolution float64 `json:"resolution" validate:"gt=0"`
	Scale      float64 `json:"scale,omitempty" validate:"gte=0"`
}

// Spec is the input for building a Descriptor.
type Spec struct {
	URL    string      `validate:"required,url"`
	Levels []LevelInfo `validate:"required,min=1,dive"`
	Origin orb.Point
	WKID   int `validate:"gte=0"`
}

// Descriptor describes a remote tile source. It is immutable once built.
type Descriptor struct {
	url    string
	levels []LevelInfo
	byID   map[int]LevelInfo
	origin orb.Point
	wkid   int
}

// Extent is the ground rectangle covered by one tile.
type Extent struct {
	orb.Bound
	Resolution float64
}

func (e Extent) XMin() float64 { return e.Min[0] }
func (e Extent) YMin() float64 { return e.Min[1] }
func (e Extent) XMax() float64 { return e.Max[0] }
func (e Extent) YMax() float64 { return e.Max[1] }

// Range is an inclusive rectangle of tile indices at one level.
type Range struct {
	Level    int
	ColStart int
	ColEnd   int
	RowStart int
	RowEnd   int
}

// Count returns the number of tiles in the range.
func (r Range) Count() int {
	return (r.ColEnd - r.ColStart + 1) * (r.RowEnd - r.RowStart + 1)
}

func NewDescriptor(spec Spec) (*Descriptor, error) {
	spec.URL = TrimURL(spec.URL)
	if err := validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("invalid tile source: %w", err)
	}

	levels := make([]LevelInfo, len(spec.Levels))
	copy(levels, spec.Levels)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })

	byID := make(map[int]LevelInfo, len(levels))
	for _, l := range levels {
		if _, dup := byID[l.Level]; dup {
			return nil, fmt.Errorf("invalid tile source: duplicate level %d", l.Level)
		}
		byID[l.Level] = l
	}

	return &Descriptor{
		url:    spec.URL,
		levels: levels,
		byID:   byID,
		origin: spec.Origin,
		wkid:   spec.WKID,
	}, nil
}

// TrimURL strips trailing slashes from a service URL.
func TrimURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func (d *Descriptor) URL() string       { return d.url }
func (d *Descriptor) Origin() orb.Point { return d.origin }
func (d *Descriptor) WKID() int         { return d.wkid }

// Levels returns a copy of the level table, ordered by level.
func (d *Descriptor) Levels() []LevelInfo {
	out := make([]LevelInfo, len(d.levels))
	copy(out, d.levels)
	return out
}

func (d *Descriptor) HasLevel(level int) bool {
	_, ok := d.byID[level]
	return ok
}

// ResolutionAt returns the ground units per pixel at level.
func (d *Descriptor) ResolutionAt(level int) (float64, error) {
	l, ok := d.byID[level]
	if !ok {
		return 0, fmt.Errorf("level %d: %w", level, ErrLevelNotFound)
	}
	return l.Resolution, nil
}

// TileExtent returns the ground rectangle of tile (level, row, col).
func (d *Descriptor) TileExtent(level, row, col int) (Extent, error) {
	res, err := d.ResolutionAt(level)
	if err != nil {
		return Extent{}, err
	}
	span := res * TileSize
	xmin := d.origin[0] + float64(col)*span
	ymax := d.origin[1] - float64(row)*span
	return Extent{
		Bound: orb.Bound{
			Min: orb.Point{xmin, ymax - span},
			Max: orb.Point{xmin + span, ymax},
		},
		Resolution: res,
	}, nil
}

// CoveringRange returns the tiles at level whose extents intersect target.
// Indices are clamped to the grid, so the range is never empty.
func (d *Descriptor) CoveringRange(level int, target Extent) (Range, error) {
	res, err := d.ResolutionAt(level)
	if err != nil {
		return Range{}, err
	}
	span := res * TileSize
	maxIdx := TilesPerLevel(level) - 1
	index := func(v float64) int {
		return ClampIndex(int(math.Floor(v/span)), maxIdx)
	}
	return Range{
		Level:    level,
		ColStart: index(target.XMin() - d.origin[0]),
		ColEnd:   index(target.XMax() - d.origin[0]),
		RowStart: index(d.origin[1] - target.YMax()),
		RowEnd:   index(d.origin[1] - target.YMin()),
	}, nil
}

// ExtendLevels returns a descriptor whose table covers every level in
// [minLevel, maxLevel]. Missing levels are derived from the nearest present
// level by powers of two; existing entries are kept as they are.
func (d *Descriptor) ExtendLevels(minLevel, maxLevel int) *Descriptor {
	if minLevel < 0 {
		minLevel = 0
	}
	levels := d.Levels()
	for lvl := minLevel; lvl <= maxLevel; lvl++ {
		if d.HasLevel(lvl) {
			continue
		}
		near := d.nearestLevel(lvl)
		factor := math.Ldexp(1, near.Level-lvl)
		levels = append(levels, LevelInfo{
			Level:      lvl,
			Resolution: near.Resolution * factor,
			Scale:      near.Scale * factor,
		})
	}

	// The table only grows with distinct levels, so this cannot fail.
	ext, err := NewDescriptor(Spec{URL: d.url, Levels: levels, Origin: d.origin, WKID: d.wkid})
	if err != nil {
		return d
	}
	return ext
}

func (d *Descriptor) nearestLevel(level int) LevelInfo {
	best := d.levels[0]
	for _, l := range d.levels[1:] {
		if abs(l.Level-level) < abs(best.Level-level) {
			best = l
		}
	}
	return best
}

// ValidLevel reports whether level is addressable in the grid.
func ValidLevel(level int) bool {
	return level >= 0 && level <= MaxLevel
}

// TilesPerLevel returns the grid width (and height) at level.
func TilesPerLevel(level int) int {
	return 1 << level
}

func ClampIndex(v, maxIndex int) int {
	return max(0, min(v, maxIndex))
}

// ClampTile clamps row and col into the grid at level.
func ClampTile(level, row, col int) (int, int) {
	maxIdx := TilesPerLevel(level) - 1
	return ClampIndex(row, maxIdx), ClampIndex(col, maxIdx)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
