// Package testutil serves synthetic tiles for package tests.
package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const tileSize = 256

var (
	Red    = color.RGBA{255, 0, 0, 255}
	Green  = color.RGBA{0, 255, 0, 255}
	Blue   = color.RGBA{0, 0, 255, 255}
	Yellow = color.RGBA{255, 255, 0, 255}
	White  = color.RGBA{255, 255, 255, 255}
)

// Solid returns a 256x256 tile filled with c.
func Solid(c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// Quadrants returns a 256x256 tile whose quadrants are filled, in order,
// top-left, top-right, bottom-left, bottom-right.
func Quadrants(tl, tr, bl, br color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	h := tileSize / 2
	draw.Draw(img, image.Rect(0, 0, h, h), image.NewUniform(tl), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(h, 0, tileSize, h), image.NewUniform(tr), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, h, h, tileSize), image.NewUniform(bl), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(h, h, tileSize, tileSize), image.NewUniform(br), image.Point{}, draw.Src)
	return img
}

func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// TileServer is an httptest server answering /tile/{level}/{row}/{col}
// from an in-memory set of PNG bodies. Unknown tiles get a 404.
type TileServer struct {
	*httptest.Server

	mu          sync.Mutex
	tiles       map[string][]byte
	requests    map[string]int
	raw         map[string][]byte
	serviceInfo []byte
	infoHits    int
}

func NewTileServer(t testing.TB) *TileServer {
	t.Helper()
	s := &TileServer{
		tiles:    make(map[string][]byte),
		requests: make(map[string]int),
		raw:      make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func key(level, row, col int) string {
	return fmt.Sprintf("%d/%d/%d", level, row, col)
}

// Put registers img as tile (level, row, col).
func (s *TileServer) Put(t testing.TB, level, row, col int, img image.Image) {
	body := EncodePNG(t, img)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[key(level, row, col)] = body
}

// PutRaw registers an arbitrary body, e.g. one that is not an image.
func (s *TileServer) PutRaw(level, row, col int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[key(level, row, col)] = body
}

// Requests returns how many times tile (level, row, col) was requested.
func (s *TileServer) Requests(level, row, col int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key(level, row, col)]
}

// TotalRequests returns the number of tile requests served so far.
func (s *TileServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}

// SetServiceInfo makes the server answer ?f=json with body.
func (s *TileServer) SetServiceInfo(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceInfo = []byte(body)
}

// ServiceInfoRequests returns how many times ?f=json was requested.
func (s *TileServer) ServiceInfoRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoHits
}

// ServiceInfo returns a tile info document for a grid whose level l has
// resolution 2^(6-l) for l in 0..6, origin (0, 16384).
func ServiceInfo() string {
	var lods []string
	for l := 0; l <= 6; l++ {
		lods = append(lods, fmt.Sprintf(`{"level":%d,"resolution":%d,"scale":%d}`, l, 1<<(6-l), 1000<<(6-l)))
	}
	return `{"tileInfo":{"rows":256,"cols":256,"origin":{"x":0,"y":16384},` +
		`"spatialReference":{"wkid":3857},"lods":[` + strings.Join(lods, ",") + `]}}`
}

func (s *TileServer) serve(w http.ResponseWriter, r *http.Request) {
	idx := strings.Index(r.URL.Path, "/tile/")
	if idx < 0 {
		s.mu.Lock()
		info := s.serviceInfo
		if r.URL.Query().Get("f") == "json" {
			s.infoHits++
		}
		s.mu.Unlock()
		if info != nil && r.URL.Query().Get("f") == "json" {
			w.Header().Set("Content-Type", "application/json")
			w.Write(info)
			return
		}
		http.NotFound(w, r)
		return
	}
	k := strings.TrimPrefix(r.URL.Path[idx:], "/tile/")

	s.mu.Lock()
	s.requests[k]++
	body, ok := s.tiles[k]
	raw, rawOK := s.raw[k]
	s.mu.Unlock()

	switch {
	case ok:
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	case rawOK:
		w.Write(raw)
	default:
		http.NotFound(w, r)
	}
}
