package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/carlmjohnson/versioninfo"
	"github.com/cshum/vipsgen/vips"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"golupatwari/internal/encode"
	"golupatwari/internal/fetcher"
	"golupatwari/internal/layer"
	"golupatwari/internal/logger"
	"golupatwari/internal/overlay"
	"golupatwari/internal/tile_renderer"
	"golupatwari/internal/tilegrid"
)

const SOURCE string = `sourceUrl`
const LEVEL string = `level`
const ROW string = `row`
const COL string = `col`
const OUTPUT string = `output`
const MINLEVEL string = `nativeMinLevel`
const MAXLEVEL string = `nativeMaxLevel`
const INTERPOLATION string = `interpolation`
const TIMEOUT string = `fetchTimeout`
const QUALITY string = `quality`
const MAXMOSAICTILES string = `maxMosaicTiles`
const LOGLEVEL string = `logLevel`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "lodrender"
	app.Usage = "Render one composited tile of a tile service to a file"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     SOURCE,
			Aliases:  []string{"s"},
			Usage:    "Tile service base URL, e.g. https://host/arcgis/rest/services/Imagery/MapServer",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(SOURCE)},
		},
		&cli.IntFlag{
			Name:     LEVEL,
			Aliases:  []string{"z"},
			Usage:    "Level of the requested tile",
			Required: true,
		},
		&cli.IntFlag{
			Name:     ROW,
			Aliases:  []string{"r"},
			Usage:    "Row of the requested tile",
			Required: true,
		},
		&cli.IntFlag{
			Name:     COL,
			Aliases:  []string{"c"},
			Usage:    "Column of the requested tile",
			Required: true,
		},
		&cli.StringFlag{
			Name:    OUTPUT,
			Aliases: []string{"o"},
			Usage:   "Output file; the extension selects png, jpg or webp",
			Value:   "tile.png",
		},
		&cli.IntFlag{
			Name:    MINLEVEL,
			Usage:   "Lowest level the source holds imagery for",
			Value:   layer.DefaultMinLevel,
			EnvVars: []string{strcase.ToScreamingSnake(MINLEVEL)},
		},
		&cli.IntFlag{
			Name:    MAXLEVEL,
			Usage:   "Highest level the source holds imagery for",
			Value:   layer.DefaultMaxLevel,
			EnvVars: []string{strcase.ToScreamingSnake(MAXLEVEL)},
		},
		&cli.StringFlag{
			Name:    INTERPOLATION,
			Aliases: []string{"i"},
			Usage:   "Resampling: nearest, bilinear or catmullrom",
			Value:   "bilinear",
			EnvVars: []string{strcase.ToScreamingSnake(INTERPOLATION)},
		},
		&cli.DurationFlag{
			Name:    TIMEOUT,
			Usage:   "Per tile fetch timeout",
			Value:   fetcher.DefaultTimeout,
			EnvVars: []string{strcase.ToScreamingSnake(TIMEOUT)},
		},
		&cli.IntFlag{
			Name:    QUALITY,
			Aliases: []string{"q"},
			Usage:   "JPEG/WebP quality",
			Value:   encode.DefaultQuality,
		},
		&cli.IntFlag{
			Name:    MAXMOSAICTILES,
			Usage:   "Skip mosaic levels needing more source tiles than this (0 = no limit)",
			Value:   0,
			EnvVars: []string{strcase.ToScreamingSnake(MAXMOSAICTILES)},
		},
		&cli.StringFlag{
			Name:    LOGLEVEL,
			Usage:   "debug, info, warn or error",
			Value:   "info",
			EnvVars: []string{strcase.ToScreamingSnake(LOGLEVEL)},
		},
	}

	app.Action = func(c *cli.Context) error {
		level, row, col := c.Int(LEVEL), c.Int(ROW), c.Int(COL)
		if err := validateTile(level, row, col); err != nil {
			return err
		}

		zlog, err := logger.New(c.String(LOGLEVEL))
		if err != nil {
			return err
		}
		defer zlog.Sync()

		interp, err := layer.ParseInterpolator(c.String(INTERPOLATION))
		if err != nil {
			return err
		}

		out := c.String(OUTPUT)
		format := encode.NormalizeFormat(filepath.Ext(out))
		if format != "png" {
			vips.Startup(nil)
			defer vips.Shutdown()
		}

		cfg := overlay.DefaultConfig()
		cfg.MinLevel = c.Int(MINLEVEL)
		cfg.MaxLevel = c.Int(MAXLEVEL)
		cfg.FetchTimeout = c.Duration(TIMEOUT)
		cfg.Interpolator = interp
		cfg.MaxMosaicTiles = c.Int(MAXMOSAICTILES)

		overlays := overlay.NewManager(cfg, nil, zlog)
		defer overlays.Close()

		ctx := context.Background()
		o, err := overlays.Attach(ctx, c.String(SOURCE))
		if err != nil {
			return err
		}

		renderer := tile_renderer.New(overlays, "png", c.Int(QUALITY), zlog)
		res, err := renderer.RenderTile(ctx, o.ID, level, row, col, format)
		if err != nil {
			return err
		}

		if err := os.WriteFile(out, res.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		zlog.Info("rendered tile",
			zap.String("output", out),
			zap.Int("level", level),
			zap.Int("row", row),
			zap.Int("col", col),
			zap.Stringer("mode", res.Mode),
			zap.Int("source_level", res.SourceLevel),
			zap.Int("tiles", res.Tiles),
			zap.Int("bytes", res.Size),
		)
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func validateTile(level, row, col int) error {
	if !tilegrid.ValidLevel(level) {
		return fmt.Errorf("level %d out of range [0, %d]", level, tilegrid.MaxLevel)
	}
	if row < 0 || col < 0 {
		return fmt.Errorf("row and col must be non-negative, got %d/%d", row, col)
	}
	return nil
}
