package encode

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/cshum/vipsgen/vips"
)

const DefaultQuality = 82

// Vips encodes lossy formats with libvips. vips.Startup must have been
// called before the first Encode.
type Vips struct {
	format  string
	quality int
}

func (v *Vips) Format() string { return v.format }

func (v *Vips) ContentType() string {
	return "image/" + v.format
}

// unpremultiply copies img into a tightly packed straight-alpha surface,
// the layout libvips expects for 4-band memory images.
func unpremultiply(img *image.RGBA) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func (v *Vips) Encode(img *image.RGBA) ([]byte, error) {
	straight := unpremultiply(img)
	b := straight.Bounds()

	vimg, err := vips.NewImageFromMemory(straight.Pix, b.Dx(), b.Dy(), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to load surface: %w", err)
	}
	defer vimg.Close()

	q := v.quality
	if q <= 0 || q > 100 {
		q = DefaultQuality
	}

	switch v.format {
	case "jpeg":
		// No alpha in JPEG; blank areas become the viewer's neutral grey.
		flattenOpts := vips.DefaultFlattenOptions()
		flattenOpts.Background = []float64{221, 221, 221} // #ddd
		if err := vimg.Flatten(flattenOpts); err != nil {
			return nil, fmt.Errorf("failed to flatten: %w", err)
		}

		jpegOpts := vips.DefaultJpegsaveBufferOptions()
		jpegOpts.Q = q
		jpegOpts.Interlace = false
		data, err := vimg.JpegsaveBuffer(jpegOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to export: %w", err)
		}
		return data, nil
	case "webp":
		webpOpts := vips.DefaultWebpsaveBufferOptions()
		webpOpts.Q = q
		data, err := vimg.WebpsaveBuffer(webpOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to export: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported vips format: %s", v.format)
	}
}
