package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 14, cfg.NativeMinLevel)
	require.Equal(t, 19, cfg.NativeMaxLevel)
	require.Equal(t, 23, cfg.MaxLevel)
	require.Equal(t, 10*time.Second, cfg.FetchTimeout)
	require.Equal(t, "session", cfg.CacheType)
	require.Equal(t, "png", cfg.OutputFormat)
	require.Empty(t, cfg.SourceURL)
	require.Zero(t, cfg.MaxMosaicTiles, "mosaics use every native level unless a budget is set")
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SOURCE_URL", "https://tiles.example.com/arcgis/rest/services/Imagery/MapServer")
	t.Setenv("NATIVE_MIN_LEVEL", "10")
	t.Setenv("NATIVE_MAX_LEVEL", "12")
	t.Setenv("FETCH_TIMEOUT", "2s")
	t.Setenv("CACHE", "MEMORY")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("MAX_MOSAIC_TILES", "2048")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 10, cfg.NativeMinLevel)
	require.Equal(t, 12, cfg.NativeMaxLevel)
	require.Equal(t, 2*time.Second, cfg.FetchTimeout)
	require.Equal(t, "memory", cfg.CacheType)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, 2048, cfg.MaxMosaicTiles)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\noutput_format: webp\nmosaic_concurrency: 2\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MOSAIC_CONCURRENCY", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Port)
	require.Equal(t, "webp", cfg.OutputFormat)
	require.Equal(t, 3, cfg.MosaicConcurrency, "environment wins over the file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"band inverted":   {"NATIVE_MIN_LEVEL": "15", "NATIVE_MAX_LEVEL": "14"},
		"max below band":  {"MAX_LEVEL": "18"},
		"bad cache":       {"CACHE": "redis"},
		"bad url":         {"SOURCE_URL": "not a url"},
		"bad format":      {"OUTPUT_FORMAT": "bmp"},
		"zero timeout":    {"FETCH_TIMEOUT": "0s"},
		"bad interp":      {"INTERPOLATION": "lanczos"},
		"quality too big": {"JPEG_QUALITY": "101"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.ErrorContains(t, err, "invalid configuration")
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		require.ErrorContains(t, err, "failed to read config file")
	})
}
