// Package layer is the tile-production entry point a map host calls for
// every (level, row, col) it wants drawn.
package layer

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"golupatwari/internal/compositor"
	"golupatwari/internal/tilegrid"
	"golupatwari/internal/tilestore"
)

// Native zoom band of the source imagery.
const (
	DefaultMinLevel = 14
	DefaultMaxLevel = 19
)

type Options struct {
	MinLevel          int
	MaxLevel          int
	Interpolator      xdraw.Interpolator
	MosaicConcurrency int
	MaxMosaicTiles    int
}

// ParseInterpolator maps a configured resampling name to its kernel.
func ParseInterpolator(name string) (xdraw.Interpolator, error) {
	switch strings.ToLower(name) {
	case "nearest":
		return xdraw.NearestNeighbor, nil
	case "", "bilinear", "approx-bilinear":
		return xdraw.ApproxBiLinear, nil
	case "catmullrom":
		return xdraw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown interpolation: %s (supported: nearest, bilinear, catmullrom)", name)
	}
}

func DefaultOptions() Options {
	return Options{
		MinLevel:          DefaultMinLevel,
		MaxLevel:          DefaultMaxLevel,
		Interpolator:      xdraw.ApproxBiLinear,
		MosaicConcurrency: 4,
	}
}

type Layer struct {
	desc       *tilegrid.Descriptor
	store      *tilestore.Store
	compositor *compositor.Compositor
	logger     *zap.Logger
}

func New(desc *tilegrid.Descriptor, store *tilestore.Store, opts Options, logger *zap.Logger) (*Layer, error) {
	band := compositor.Band{Min: opts.MinLevel, Max: opts.MaxLevel}
	for lvl := band.Min; lvl <= band.Max; lvl++ {
		if !desc.HasLevel(lvl) {
			return nil, fmt.Errorf("native band [%d, %d] not covered by tile info: level %d: %w",
				band.Min, band.Max, lvl, tilegrid.ErrLevelNotFound)
		}
	}

	comp, err := compositor.New(desc, store, compositor.Options{
		Band:              band,
		Interpolator:      opts.Interpolator,
		MosaicConcurrency: opts.MosaicConcurrency,
		MaxMosaicTiles:    opts.MaxMosaicTiles,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Layer{
		desc:       desc,
		store:      store,
		compositor: comp,
		logger:     logger,
	}, nil
}

// ProduceTile returns the tile image for (level, row, col). It never fails;
// when nothing can be found the image is fully transparent.
func (l *Layer) ProduceTile(ctx context.Context, level, row, col int) *image.RGBA {
	return l.Produce(ctx, level, row, col).Image
}

// Produce is ProduceTile plus details on how the tile was made.
func (l *Layer) Produce(ctx context.Context, level, row, col int) compositor.Result {
	start := time.Now()
	res := l.compositor.Compose(ctx, level, row, col)

	l.logger.Debug("produced tile",
		zap.Int("level", level),
		zap.Int("row", row),
		zap.Int("col", col),
		zap.Stringer("mode", res.Mode),
		zap.Int("source_level", res.SourceLevel),
		zap.Int("tiles", res.Tiles),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res
}

func (l *Layer) Descriptor() *tilegrid.Descriptor {
	return l.desc
}

func (l *Layer) Band() compositor.Band {
	return l.compositor.Band()
}

func (l *Layer) Stats() tilestore.Stats {
	return l.store.Stats()
}

// Close discards the layer's cached tiles.
func (l *Layer) Close() {
	l.store.Close()
}
