package tile_renderer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"golupatwari/internal/compositor"
	"golupatwari/internal/encode"
	"golupatwari/internal/overlay"
)

type Renderer struct {
	overlays      *overlay.Manager
	defaultFormat string
	quality       int
	logger        *zap.Logger
}

type TileResult struct {
	Data        []byte
	ETag        string
	Size        int
	ContentType string
	Mode        compositor.Mode
	SourceLevel int
	Tiles       int
}

func New(overlays *overlay.Manager, defaultFormat string, quality int, logger *zap.Logger) *Renderer {
	return &Renderer{
		overlays:      overlays,
		defaultFormat: defaultFormat,
		quality:       quality,
		logger:        logger,
	}
}

// RenderTile composites tile (level, row, col) of an overlay and encodes it.
// An empty format selects the configured default. Only an unknown overlay
// or format fails; missing imagery yields a blank tile.
func (r *Renderer) RenderTile(ctx context.Context, overlayID string, level, row, col int, format string) (*TileResult, error) {
	o, err := r.overlays.Get(overlayID)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format = r.defaultFormat
	}
	enc, err := encode.New(format, r.quality)
	if err != nil {
		return nil, err
	}

	res := o.Layer.Produce(ctx, level, row, col)

	data, err := enc.Encode(res.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tile %d/%d/%d: %w", level, row, col, err)
	}

	return &TileResult{
		Data:        data,
		ETag:        r.generateETag(o, level, row, col, enc.Format(), res),
		Size:        len(data),
		ContentType: enc.ContentType(),
		Mode:        res.Mode,
		SourceLevel: res.SourceLevel,
		Tiles:       res.Tiles,
	}, nil
}

// generateETag keys on the overlay, the tile and how the tile was made.
func (r *Renderer) generateETag(o *overlay.Overlay, level, row, col int, format string, res compositor.Result) string {
	keyStr := fmt.Sprintf("%s|%s|%d/%d/%d|%s|%d|%d",
		o.ID, o.SourceURL(), level, row, col, format, res.SourceLevel, res.Tiles)
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])
}
