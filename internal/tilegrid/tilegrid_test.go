package tilegrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func testDescriptor(t *testing.T) *Descriptor {
	t.Helper()
	d, err := NewDescriptor(Spec{
		URL: "http://tiles.example.com/arcgis/rest/services/Overlay/MapServer///",
		Levels: []LevelInfo{
			{Level: 2, Resolution: 1},
			{Level: 0, Resolution: 4},
			{Level: 1, Resolution: 2},
		},
		Origin: orb.Point{-1024, 1024},
		WKID:   3857,
	})
	require.NoError(t, err)
	return d
}

func TestNewDescriptor(t *testing.T) {
	d := testDescriptor(t)
	require.Equal(t, "http://tiles.example.com/arcgis/rest/services/Overlay/MapServer", d.URL())
	require.Equal(t, []int{0, 1, 2}, []int{d.Levels()[0].Level, d.Levels()[1].Level, d.Levels()[2].Level})
	require.Equal(t, 3857, d.WKID())
}

func TestNewDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{name: "no url", spec: Spec{Levels: []LevelInfo{{Level: 0, Resolution: 1}}}},
		{name: "no levels", spec: Spec{URL: "http://example.com"}},
		{name: "zero resolution", spec: Spec{URL: "http://example.com", Levels: []LevelInfo{{Level: 0}}}},
		{name: "negative level", spec: Spec{URL: "http://example.com", Levels: []LevelInfo{{Level: -1, Resolution: 1}}}},
		{name: "duplicate level", spec: Spec{URL: "http://example.com", Levels: []LevelInfo{{Level: 3, Resolution: 1}, {Level: 3, Resolution: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDescriptor(tt.spec)
			require.Error(t, err)
		})
	}
}

func TestTilesPerLevel(t *testing.T) {
	require.Equal(t, 1, TilesPerLevel(0))
	require.Equal(t, 2, TilesPerLevel(1))
	require.Equal(t, 1<<19, TilesPerLevel(19))
	require.Equal(t, 1<<30, TilesPerLevel(30))
}

func TestValidLevel(t *testing.T) {
	require.True(t, ValidLevel(0))
	require.True(t, ValidLevel(MaxLevel))
	require.False(t, ValidLevel(-1))
	require.False(t, ValidLevel(MaxLevel+1))
	require.False(t, ValidLevel(64))
}

func TestClampIndex(t *testing.T) {
	require.Equal(t, 0, ClampIndex(-5, 3))
	require.Equal(t, 2, ClampIndex(2, 3))
	require.Equal(t, 3, ClampIndex(4, 3))

	row, col := ClampTile(2, 10, -1)
	require.Equal(t, 3, row)
	require.Equal(t, 0, col)
}

func TestResolutionAt(t *testing.T) {
	d := testDescriptor(t)

	res, err := d.ResolutionAt(1)
	require.NoError(t, err)
	require.Equal(t, 2.0, res)

	_, err = d.ResolutionAt(7)
	require.True(t, errors.Is(err, ErrLevelNotFound))
}

func TestTileExtent(t *testing.T) {
	d := testDescriptor(t)

	ext, err := d.TileExtent(2, 1, 3)
	require.NoError(t, err)
	require.Equal(t, -1024+3*256.0, ext.XMin())
	require.Equal(t, -1024+4*256.0, ext.XMax())
	require.Equal(t, 1024-256.0, ext.YMax())
	require.Equal(t, 1024-512.0, ext.YMin())
	require.Equal(t, 1.0, ext.Resolution)

	_, err = d.TileExtent(9, 0, 0)
	require.ErrorIs(t, err, ErrLevelNotFound)
}

func TestCoveringRange(t *testing.T) {
	d := testDescriptor(t)

	target, err := d.TileExtent(1, 1, 0)
	require.NoError(t, err)

	r, err := d.CoveringRange(2, target)
	require.NoError(t, err)
	// The right and bottom edges touch the next tile column/row; the
	// floor-based formula includes it, as the original does.
	require.Equal(t, Range{Level: 2, ColStart: 0, ColEnd: 2, RowStart: 2, RowEnd: 3}, r)

	whole, err := d.TileExtent(0, 0, 0)
	require.NoError(t, err)
	r, err = d.CoveringRange(2, whole)
	require.NoError(t, err)
	require.Equal(t, Range{Level: 2, ColStart: 0, ColEnd: 3, RowStart: 0, RowEnd: 3}, r)
	require.Equal(t, 16, r.Count())
}

func TestExtendLevels(t *testing.T) {
	d, err := NewDescriptor(Spec{
		URL:    "http://example.com/MapServer",
		Levels: []LevelInfo{{Level: 3, Resolution: 8, Scale: 800}, {Level: 4, Resolution: 4, Scale: 400}},
	})
	require.NoError(t, err)

	ext := d.ExtendLevels(0, 6)
	for lvl, want := range map[int]float64{0: 64, 1: 32, 2: 16, 3: 8, 4: 4, 5: 2, 6: 1} {
		res, err := ext.ResolutionAt(lvl)
		require.NoError(t, err, "level %d", lvl)
		require.Equal(t, want, res, "level %d", lvl)
	}
	require.False(t, d.HasLevel(0), "source descriptor must stay unchanged")
}

const serviceJSON = `{
  "currentVersion": 10.81,
  "spatialReference": {"wkid": 102100, "latestWkid": 3857},
  "tileInfo": {
    "rows": 256,
    "cols": 256,
    "origin": {"x": -20037508.342787, "y": 20037508.342787},
    "spatialReference": {"wkid": 102100, "latestWkid": 3857},
    "lods": [
      {"level": 14, "resolution": 9.554628535647032, "scale": 36111.909643},
      {"level": 15, "resolution": 4.777314267823516, "scale": 18055.954822}
    ]
  }
}`

func TestParseServiceInfo(t *testing.T) {
	d, err := ParseServiceInfo("http://example.com/MapServer/", []byte(serviceJSON))
	require.NoError(t, err)
	require.Equal(t, "http://example.com/MapServer", d.URL())
	require.Equal(t, 3857, d.WKID())
	require.Equal(t, orb.Point{-20037508.342787, 20037508.342787}, d.Origin())
	res, err := d.ResolutionAt(15)
	require.NoError(t, err)
	require.InDelta(t, 4.777314267823516, res, 1e-12)
}

func TestParseServiceInfo_Errors(t *testing.T) {
	_, err := ParseServiceInfo("http://example.com/MapServer", []byte(`{"spatialReference":{"wkid":4326}}`))
	require.ErrorContains(t, err, "missing tileInfo")

	_, err = ParseServiceInfo("http://example.com/MapServer", []byte(`{"tileInfo":{"rows":512,"cols":512,"lods":[{"level":0,"resolution":1}]}}`))
	require.ErrorContains(t, err, "unsupported tile size")

	_, err = ParseServiceInfo("http://example.com/MapServer", []byte(`not json`))
	require.Error(t, err)
}

func TestLoadDescriptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("f") != "json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, serviceJSON)
	}))
	defer srv.Close()

	d, err := LoadDescriptor(context.Background(), srv.Client(), srv.URL+"/MapServer/")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/MapServer", d.URL())
	require.True(t, d.HasLevel(14))

	_, err = LoadDescriptor(context.Background(), srv.Client(), srv.URL+"/missing?x=")
	require.Error(t, err)
}
