// Package encode turns composited surfaces into response bodies.
package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

// Encoder serializes a tile surface.
type Encoder interface {
	Encode(img *image.RGBA) ([]byte, error)
	Format() string
	ContentType() string
}

// New returns the encoder for format (png, jpeg/jpg or webp).
func New(format string, quality int) (Encoder, error) {
	switch NormalizeFormat(format) {
	case "png":
		return PNG{}, nil
	case "jpeg":
		return &Vips{format: "jpeg", quality: quality}, nil
	case "webp":
		return &Vips{format: "webp", quality: quality}, nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: png, jpeg, webp)", ErrUnsupportedFormat, format)
	}
}

// NormalizeFormat lowercases format, drops a leading dot and maps jpg to jpeg.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

// PNG keeps the alpha channel, so blank tiles stay transparent.
type PNG struct{}

func (PNG) Encode(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (PNG) Format() string      { return "png" }
func (PNG) ContentType() string { return "image/png" }
