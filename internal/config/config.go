package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port              int           `validate:"gte=1,lte=65535"`
	LogLevel          string        `validate:"oneof=debug info warn error"`
	SourceURL         string        `validate:"omitempty,url"`
	NativeMinLevel    int           `validate:"gte=0,lte=30"`
	NativeMaxLevel    int           `validate:"gtefield=NativeMinLevel,lte=30"`
	MaxLevel          int           `validate:"gtefield=NativeMaxLevel,lte=30"`
	FetchTimeout      time.Duration `validate:"gt=0"`
	UserAgent         string
	CacheType         string        `validate:"oneof=session memory disabled"`
	CacheMemoryTiles  int           `validate:"gte=1"`
	CacheTTL          time.Duration `validate:"gte=0"`
	Interpolation     string        `validate:"oneof=nearest bilinear approx-bilinear catmullrom"`
	MosaicConcurrency int           `validate:"gte=1,lte=64"`
	MaxMosaicTiles    int           `validate:"gte=0"`
	OutputFormat      string        `validate:"oneof=png jpeg jpg webp"`
	JpegQuality       int           `validate:"gte=1,lte=100"`
	VipsMaxCacheMB    int           `validate:"gte=0"`
	VipsConcurrency   int           `validate:"gte=0"`
	AllowedOrigin     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("source_url", "")
	v.SetDefault("native_min_level", 14)
	v.SetDefault("native_max_level", 19)
	v.SetDefault("max_level", 23)
	v.SetDefault("fetch_timeout", 10*time.Second)
	v.SetDefault("user_agent", "golupatwari")
	v.SetDefault("cache", "session")
	v.SetDefault("cache_memory_tiles", 20000)
	v.SetDefault("cache_ttl", time.Duration(0))
	v.SetDefault("interpolation", "bilinear")
	v.SetDefault("mosaic_concurrency", 8)
	v.SetDefault("max_mosaic_tiles", 0)
	v.SetDefault("output_format", "png")
	v.SetDefault("jpeg_quality", 82)
	v.SetDefault("vips_max_cache_mb", 256)
	v.SetDefault("vips_concurrency", 1)
	v.SetDefault("allowed_origin", "")
}

// Load reads the configuration from the environment and, when CONFIG_FILE
// is set, from that file. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Port:              v.GetInt("port"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		SourceURL:         strings.TrimSpace(v.GetString("source_url")),
		NativeMinLevel:    v.GetInt("native_min_level"),
		NativeMaxLevel:    v.GetInt("native_max_level"),
		MaxLevel:          v.GetInt("max_level"),
		FetchTimeout:      v.GetDuration("fetch_timeout"),
		UserAgent:         v.GetString("user_agent"),
		CacheType:         strings.ToLower(v.GetString("cache")),
		CacheMemoryTiles:  v.GetInt("cache_memory_tiles"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		Interpolation:     strings.ToLower(v.GetString("interpolation")),
		MosaicConcurrency: v.GetInt("mosaic_concurrency"),
		MaxMosaicTiles:    v.GetInt("max_mosaic_tiles"),
		OutputFormat:      strings.ToLower(v.GetString("output_format")),
		JpegQuality:       v.GetInt("jpeg_quality"),
		VipsMaxCacheMB:    v.GetInt("vips_max_cache_mb"),
		VipsConcurrency:   v.GetInt("vips_concurrency"),
		AllowedOrigin:     v.GetString("allowed_origin"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
