package cache

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTileKey_String(t *testing.T) {
	k := TileKey{SourceURL: "http://example.com/MapServer", Level: 14, Row: 3, Col: 7}
	require.Equal(t, "http://example.com/MapServer|14/3/7", k.String())
}

func TestCaches(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	present := TileKey{SourceURL: "u", Level: 1, Row: 0, Col: 1}
	missing := TileKey{SourceURL: "u", Level: 1, Row: 1, Col: 1}

	tests := []struct {
		name  string
		cache Cache
	}{
		{name: "session", cache: NewSessionCache()},
		{name: "memory", cache: NewMemoryCache(16, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cache
			defer Close(c)

			_, ok := c.Get(present)
			require.False(t, ok)
			require.False(t, c.Has(present))

			c.Set(present, Entry{Image: img})
			c.Set(missing, Entry{})

			e, ok := c.Get(present)
			require.True(t, ok)
			require.False(t, e.Absent())
			require.Same(t, img, e.Image)

			e, ok = c.Get(missing)
			require.True(t, ok, "absence must be cached")
			require.True(t, e.Absent())

			require.True(t, c.Has(missing))
			require.Equal(t, 2, c.Len())

			c.Clear()
			require.False(t, c.Has(present))
			require.Equal(t, 0, c.Len())
		})
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache(16, 20*time.Millisecond)
	defer c.Stop()

	k := TileKey{SourceURL: "u", Level: 0}
	c.Set(k, Entry{})
	require.True(t, c.Has(k))

	require.Eventually(t, func() bool { return !c.Has(k) }, time.Second, 5*time.Millisecond)
	_, ok := c.Get(k)
	require.False(t, ok)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	k := TileKey{SourceURL: "u"}
	c.Set(k, Entry{})
	_, ok := c.Get(k)
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestNewCache(t *testing.T) {
	log := zap.NewNop()

	c, err := NewCache("session", 0, 0, log)
	require.NoError(t, err)
	require.IsType(t, &SessionCache{}, c)

	c, err = NewCache("memory", 10, time.Minute, log)
	require.NoError(t, err)
	require.IsType(t, &MemoryCache{}, c)
	Close(c)

	c, err = NewCache("disabled", 0, 0, log)
	require.NoError(t, err)
	require.IsType(t, &NoopCache{}, c)

	_, err = NewCache("file", 0, 0, log)
	require.Error(t, err)
}
