// Package compositor builds output tiles for any level by recombining tiles
// from the source's native level band.
//
// Three cases, chosen only by where the requested level sits relative to the
// band [Min, Max]:
//
//	Min <= level <= Max  direct tile, else upsample the nearest ancestor
//	level > Max          upsample an ancestor, walking from Max down to Min
//	level < Min          mosaic every covering tile of Min..Max, coarse first
//
// Output is always a TileSize x TileSize RGBA surface; nothing available
// yields a transparent one.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"golupatwari/internal/tilegrid"
)

const tileSize = tilegrid.TileSize

// Source returns a tile, or nil when it is unavailable.
type Source interface {
	Get(ctx context.Context, level, row, col int) image.Image
}

// Band is the inclusive range of levels the source holds imagery for.
type Band struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (b Band) Contains(level int) bool {
	return level >= b.Min && level <= b.Max
}

func (b Band) Validate() error {
	if b.Min < 0 || b.Max < b.Min || b.Max > tilegrid.MaxLevel {
		return fmt.Errorf("invalid native band [%d, %d]", b.Min, b.Max)
	}
	return nil
}

type Mode int

const (
	ModeNative   Mode = iota // level inside the band
	ModeDeepZoom             // level above the band
	ModeMosaic               // level below the band
)

func (m Mode) String() string {
	switch m {
	case ModeNative:
		return "native"
	case ModeDeepZoom:
		return "deep-zoom"
	case ModeMosaic:
		return "mosaic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Result is a composited tile plus how it was made.
type Result struct {
	Image *image.RGBA
	Mode  Mode
	// SourceLevel is the level the pixels came from. For mosaics it is the
	// finest level that contributed. -1 when nothing was drawn.
	SourceLevel int
	// Tiles is the number of source tiles drawn.
	Tiles int
}

func (r Result) Blank() bool {
	return r.Tiles == 0
}

type Options struct {
	Band         Band
	Interpolator xdraw.Interpolator
	// MosaicConcurrency bounds parallel fetches within one mosaic level.
	MosaicConcurrency int
	// MaxMosaicTiles skips mosaic levels needing more tiles than this.
	// Zero means no limit.
	MaxMosaicTiles int
}

type Compositor struct {
	desc   *tilegrid.Descriptor
	src    Source
	opts   Options
	logger *zap.Logger
}

func New(desc *tilegrid.Descriptor, src Source, opts Options, logger *zap.Logger) (*Compositor, error) {
	if err := opts.Band.Validate(); err != nil {
		return nil, err
	}
	if opts.Interpolator == nil {
		opts.Interpolator = xdraw.ApproxBiLinear
	}
	if opts.MosaicConcurrency <= 0 {
		opts.MosaicConcurrency = 1
	}
	return &Compositor{
		desc:   desc,
		src:    src,
		opts:   opts,
		logger: logger,
	}, nil
}

func (c *Compositor) Band() Band {
	return c.opts.Band
}

// ModeFor returns which case serves level.
func (c *Compositor) ModeFor(level int) Mode {
	switch {
	case level > c.opts.Band.Max:
		return ModeDeepZoom
	case level < c.opts.Band.Min:
		return ModeMosaic
	default:
		return ModeNative
	}
}

// Compose renders tile (level, row, col). It never fails. Row and col are
// clamped to the grid first, so out-of-range requests render the edge tile.
// Levels outside the grid render blank.
func (c *Compositor) Compose(ctx context.Context, level, row, col int) Result {
	res := Result{
		Image:       image.NewRGBA(image.Rect(0, 0, tileSize, tileSize)),
		Mode:        c.ModeFor(level),
		SourceLevel: -1,
	}
	if !tilegrid.ValidLevel(level) {
		c.logger.Warn("level outside the grid", zap.Int("level", level))
		return res
	}
	row, col = tilegrid.ClampTile(level, row, col)

	switch res.Mode {
	case ModeNative:
		if img := c.src.Get(ctx, level, row, col); img != nil {
			c.drawDirect(res.Image, img)
			res.SourceLevel, res.Tiles = level, 1
			return res
		}
		c.upsample(ctx, &res, level, row, col, level-1)
	case ModeDeepZoom:
		c.upsample(ctx, &res, level, row, col, c.opts.Band.Max)
	case ModeMosaic:
		c.mosaic(ctx, &res, level, row, col)
	}
	return res
}

func (c *Compositor) drawDirect(dst *image.RGBA, img image.Image) {
	b := img.Bounds()
	if b.Dx() == tileSize && b.Dy() == tileSize {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return
	}
	c.opts.Interpolator.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
}

// upsample walks ancestor levels from..Min and stretches the part of the
// first available ancestor that covers (level, row, col).
func (c *Compositor) upsample(ctx context.Context, res *Result, level, row, col, from int) {
	for p := from; p >= c.opts.Band.Min; p-- {
		scale := 1 << (level - p)
		parent := c.src.Get(ctx, p, row/scale, col/scale)
		if parent == nil {
			continue
		}

		srcSize := float64(tileSize) / float64(scale)
		sx := float64(col%scale) * srcSize
		sy := float64(row%scale) * srcSize
		c.drawCrop(res.Image, parent, sx, sy, srcSize)

		res.SourceLevel, res.Tiles = p, 1
		return
	}
}

// drawCrop stretches the square (sx, sy, size) of src over all of dst.
// The crop may be smaller than a pixel once an ancestor is more than eight
// levels up, so placement goes through an affine transform.
func (c *Compositor) drawCrop(dst *image.RGBA, src image.Image, sx, sy, size float64) {
	b := src.Bounds()
	k := float64(tileSize) / size
	ox := float64(b.Min.X) + sx
	oy := float64(b.Min.Y) + sy

	sr := image.Rect(
		b.Min.X+int(math.Floor(sx)), b.Min.Y+int(math.Floor(sy)),
		b.Min.X+int(math.Ceil(sx+size)), b.Min.Y+int(math.Ceil(sy+size)),
	).Intersect(b)

	s2d := f64.Aff3{
		k, 0, -ox * k,
		0, k, -oy * k,
	}
	c.opts.Interpolator.Transform(dst, s2d, src, sr, draw.Src, nil)
}

type placed struct {
	img    image.Image
	extent tilegrid.Extent
}

// mosaic paints every tile of levels Min..Max that intersects the target,
// coarse levels first so finer imagery ends up on top.
func (c *Compositor) mosaic(ctx context.Context, res *Result, level, row, col int) {
	target, err := c.desc.TileExtent(level, row, col)
	if err != nil {
		c.logger.Warn("cannot place mosaic target", zap.Int("level", level), zap.Error(err))
		return
	}

	for l := c.opts.Band.Min; l <= c.opts.Band.Max; l++ {
		rng, err := c.desc.CoveringRange(l, target)
		if err != nil {
			c.logger.Warn("skipping mosaic level", zap.Int("level", l), zap.Error(err))
			continue
		}
		if c.opts.MaxMosaicTiles > 0 && rng.Count() > c.opts.MaxMosaicTiles {
			c.logger.Debug("mosaic level over tile budget",
				zap.Int("level", l),
				zap.Int("tiles", rng.Count()),
				zap.Int("max_tiles", c.opts.MaxMosaicTiles),
			)
			continue
		}

		children := c.fetchRange(ctx, rng)
		for _, ch := range children {
			if ch.img == nil {
				continue
			}
			if c.drawPlaced(res.Image, ch, target) {
				res.SourceLevel = l
				res.Tiles++
			}
		}
	}
}

// fetchRange loads every tile in rng, in row-major order. Fetches run
// concurrently; the returned order does not depend on completion order.
func (c *Compositor) fetchRange(ctx context.Context, rng tilegrid.Range) []placed {
	type cell struct{ row, col int }
	cells := make([]cell, 0, rng.Count())
	out := make([]placed, 0, rng.Count())
	for r := rng.RowStart; r <= rng.RowEnd; r++ {
		for col := rng.ColStart; col <= rng.ColEnd; col++ {
			ext, err := c.desc.TileExtent(rng.Level, r, col)
			if err != nil {
				continue
			}
			cells = append(cells, cell{r, col})
			out = append(out, placed{extent: ext})
		}
	}

	var g errgroup.Group
	g.SetLimit(c.opts.MosaicConcurrency)
	for i, cl := range cells {
		g.Go(func() error {
			out[i].img = c.src.Get(ctx, rng.Level, cl.row, cl.col)
			return nil
		})
	}
	g.Wait()
	return out
}

// drawPlaced projects a child tile's ground extent into target pixel space
// and draws it there, scaled. It reports whether any of it landed on dst.
func (c *Compositor) drawPlaced(dst *image.RGBA, ch placed, target tilegrid.Extent) bool {
	dx := (ch.extent.XMin() - target.XMin()) / target.Resolution
	dy := (target.YMax() - ch.extent.YMax()) / target.Resolution
	dw := (ch.extent.XMax() - ch.extent.XMin()) / target.Resolution
	dh := (ch.extent.YMax() - ch.extent.YMin()) / target.Resolution

	if dx >= tileSize || dy >= tileSize || dx+dw <= 0 || dy+dh <= 0 {
		return false
	}

	b := ch.img.Bounds()
	kx := dw / float64(tileSize)
	ky := dh / float64(tileSize)
	s2d := f64.Aff3{
		kx, 0, dx - float64(b.Min.X)*kx,
		0, ky, dy - float64(b.Min.Y)*ky,
	}
	c.opts.Interpolator.Transform(dst, s2d, ch.img, b, draw.Over, nil)
	return true
}
