package tile_renderer

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"golupatwari/internal/compositor"
	"golupatwari/internal/encode"
	"golupatwari/internal/overlay"
	"golupatwari/internal/testutil"
)

func setup(t *testing.T) (*Renderer, *overlay.Overlay, *testutil.TileServer) {
	t.Helper()
	srv := testutil.NewTileServer(t)
	srv.SetServiceInfo(testutil.ServiceInfo())
	srv.Put(t, 3, 2, 2, testutil.Solid(testutil.Blue))

	cfg := overlay.DefaultConfig()
	cfg.MinLevel, cfg.MaxLevel = 3, 5
	m := overlay.NewManager(cfg, srv.Client(), zap.NewNop())
	t.Cleanup(m.Close)

	o, err := m.Attach(context.Background(), srv.URL+"/MapServer")
	require.NoError(t, err)
	return New(m, "png", 0, zap.NewNop()), o, srv
}

func TestRenderTile(t *testing.T) {
	r, o, _ := setup(t)

	res, err := r.RenderTile(context.Background(), o.ID, 3, 2, 2, "")
	require.NoError(t, err)
	require.Equal(t, "image/png", res.ContentType)
	require.Equal(t, compositor.ModeNative, res.Mode)
	require.Equal(t, 3, res.SourceLevel)
	require.Equal(t, len(res.Data), res.Size)
	require.Len(t, res.ETag, 64)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	require.Equal(t, 256, img.Bounds().Dx())
	_, _, b, a := img.At(100, 100).RGBA()
	require.Equal(t, uint32(0xffff), b)
	require.Equal(t, uint32(0xffff), a)
}

func TestRenderTile_ETag(t *testing.T) {
	r, o, srv := setup(t)
	ctx := context.Background()

	a, err := r.RenderTile(ctx, o.ID, 3, 2, 2, "png")
	require.NoError(t, err)
	b, err := r.RenderTile(ctx, o.ID, 3, 2, 2, "png")
	require.NoError(t, err)
	require.Equal(t, a.ETag, b.ETag)
	require.Equal(t, a.Data, b.Data)
	require.Equal(t, 1, srv.Requests(3, 2, 2))

	c, err := r.RenderTile(ctx, o.ID, 4, 4, 4, "png")
	require.NoError(t, err)
	require.NotEqual(t, a.ETag, c.ETag)
}

func TestRenderTile_Blank(t *testing.T) {
	r, o, _ := setup(t)

	res, err := r.RenderTile(context.Background(), o.ID, 3, 0, 0, "png")
	require.NoError(t, err)
	require.Equal(t, -1, res.SourceLevel)
	require.Zero(t, res.Tiles)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	require.Zero(t, a)
}

func TestRenderTile_Errors(t *testing.T) {
	r, o, _ := setup(t)
	ctx := context.Background()

	_, err := r.RenderTile(ctx, "nope", 3, 2, 2, "png")
	require.ErrorIs(t, err, overlay.ErrNotFound)

	_, err = r.RenderTile(ctx, o.ID, 3, 2, 2, "gif")
	require.ErrorIs(t, err, encode.ErrUnsupportedFormat)
}
