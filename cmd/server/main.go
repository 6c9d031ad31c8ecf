package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"golupatwari/internal/config"
	httphandlers "golupatwari/internal/http"
	"golupatwari/internal/layer"
	"golupatwari/internal/logger"
	"golupatwari/internal/overlay"
	"golupatwari/internal/tile_renderer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	interp, err := layer.ParseInterpolator(cfg.Interpolation)
	if err != nil {
		log.Fatal("Invalid interpolation", zap.Error(err))
	}

	overlays := overlay.NewManager(overlay.Config{
		MinLevel:          cfg.NativeMinLevel,
		MaxLevel:          cfg.NativeMaxLevel,
		ExtendToLevel:     cfg.MaxLevel,
		FetchTimeout:      cfg.FetchTimeout,
		CacheType:         cfg.CacheType,
		CacheMemoryTiles:  cfg.CacheMemoryTiles,
		CacheTTL:          cfg.CacheTTL,
		Interpolator:      interp,
		MosaicConcurrency: cfg.MosaicConcurrency,
		MaxMosaicTiles:    cfg.MaxMosaicTiles,
		UserAgent:         cfg.UserAgent,
	}, nil, log)
	defer overlays.Close()

	log.Info("Starting golupatwari server",
		zap.Int("port", cfg.Port),
		zap.Int("native_min_level", cfg.NativeMinLevel),
		zap.Int("native_max_level", cfg.NativeMaxLevel),
		zap.String("cache", cfg.CacheType),
	)

	if cfg.SourceURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
		o, err := overlays.Attach(ctx, cfg.SourceURL)
		cancel()
		if err != nil {
			log.Warn("Initial attach failed", zap.String("source_url", cfg.SourceURL), zap.Error(err))
		} else {
			log.Info("Serving startup overlay", zap.String("id", o.ID))
		}
	}

	renderer := tile_renderer.New(overlays, cfg.OutputFormat, cfg.JpegQuality, log)
	handlers := httphandlers.New(cfg, log, overlays, renderer)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
