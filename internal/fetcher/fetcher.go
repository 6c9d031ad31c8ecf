// Package fetcher retrieves and decodes single tiles from a remote tile
// service laid out as {source}/tile/{level}/{row}/{col}.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

const DefaultTimeout = 10 * time.Second

// maxTileBytes caps how much of a response body is read.
const maxTileBytes = 16 << 20

var (
	// ErrNetwork covers rejected requests, timeouts, bad status codes and
	// empty bodies.
	ErrNetwork = errors.New("tile fetch failed")
	// ErrDecode is returned when a body is present but is not an image.
	ErrDecode = errors.New("tile decode failed")
)

// Fetcher loads one tile image.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string, level, row, col int) (image.Image, error)
}

type HTTPFetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

type Option func(*HTTPFetcher)

func WithClient(client *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = client }
}

func WithTimeout(timeout time.Duration) Option {
	return func(f *HTTPFetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

func New(logger *zap.Logger, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TileURL returns the address of tile (level, row, col) under sourceURL.
func TileURL(sourceURL string, level, row, col int) string {
	return fmt.Sprintf("%s/tile/%d/%d/%d", sourceURL, level, row, col)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string, level, row, col int) (image.Image, error) {
	url := TileURL(sourceURL, level, row, col)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: unexpected status code: %d", ErrNetwork, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, url, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", ErrNetwork, url)
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, url, err)
	}

	f.logger.Debug("fetched tile",
		zap.String("url", url),
		zap.String("format", format),
		zap.Int("bytes", len(body)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return img, nil
}
