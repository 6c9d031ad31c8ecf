// Package overlay keeps the set of attached tile sources. Attaching a source
// is the point where its tile info is known and its layer can be built; the
// layer and its cache live exactly as long as the overlay.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"golupatwari/internal/cache"
	"golupatwari/internal/compositor"
	"golupatwari/internal/fetcher"
	"golupatwari/internal/layer"
	"golupatwari/internal/tilegrid"
	"golupatwari/internal/tilestore"
)

var ErrNotFound = errors.New("overlay not found")

// Config describes how attached sources are served. ExtendToLevel widens
// each level table to 0..ExtendToLevel so every requested level has a
// resolution.
type Config struct {
	MinLevel          int
	MaxLevel          int
	ExtendToLevel     int
	FetchTimeout      time.Duration
	CacheType         string
	CacheMemoryTiles  int
	CacheTTL          time.Duration
	Interpolator      xdraw.Interpolator
	MosaicConcurrency int
	MaxMosaicTiles    int
	UserAgent         string
}

func DefaultConfig() Config {
	opts := layer.DefaultOptions()
	return Config{
		MinLevel:          opts.MinLevel,
		MaxLevel:          opts.MaxLevel,
		ExtendToLevel:     23,
		FetchTimeout:      fetcher.DefaultTimeout,
		CacheType:         "session",
		Interpolator:      opts.Interpolator,
		MosaicConcurrency: opts.MosaicConcurrency,
	}
}

type Info struct {
	ID         string          `json:"id"`
	SourceURL  string          `json:"source_url"`
	WKID       int             `json:"wkid"`
	Origin     [2]float64      `json:"origin"`
	Levels     []int           `json:"levels"`
	Band       compositor.Band `json:"band"`
	AttachedAt time.Time       `json:"attached_at"`
	Cache      tilestore.Stats `json:"cache"`
}

type Overlay struct {
	ID         string
	AttachedAt time.Time
	Layer      *layer.Layer

	seq uint64
}

func (o *Overlay) SourceURL() string {
	return o.Layer.Descriptor().URL()
}

func (o *Overlay) Info() Info {
	desc := o.Layer.Descriptor()
	levels := make([]int, 0, len(desc.Levels()))
	for _, l := range desc.Levels() {
		levels = append(levels, l.Level)
	}
	origin := desc.Origin()
	return Info{
		ID:         o.ID,
		SourceURL:  desc.URL(),
		WKID:       desc.WKID(),
		Origin:     [2]float64{origin.X(), origin.Y()},
		Levels:     levels,
		Band:       o.Layer.Band(),
		AttachedAt: o.AttachedAt,
		Cache:      o.Layer.Stats(),
	}
}

type Manager struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu       sync.RWMutex
	overlays map[string]*Overlay
	byURL    map[string]string
	seq      uint64
}

func NewManager(cfg Config, client *http.Client, logger *zap.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &Manager{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		overlays: make(map[string]*Overlay),
		byURL:    make(map[string]string),
	}
}

// Attach loads the tile info of sourceURL and builds its layer. Attaching a
// source that is already attached returns the existing overlay.
func (m *Manager) Attach(ctx context.Context, sourceURL string) (*Overlay, error) {
	sourceURL = tilegrid.TrimURL(sourceURL)
	if o := m.lookupURL(sourceURL); o != nil {
		return o, nil
	}

	desc, err := tilegrid.LoadDescriptor(ctx, m.client, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load tile info: %w", err)
	}
	if m.cfg.ExtendToLevel > 0 {
		desc = desc.ExtendLevels(0, m.cfg.ExtendToLevel)
	}

	tileCache, err := cache.NewCache(m.cfg.CacheType, m.cfg.CacheMemoryTiles, m.cfg.CacheTTL, m.logger)
	if err != nil {
		return nil, err
	}

	fetchOpts := []fetcher.Option{fetcher.WithClient(m.client)}
	if m.cfg.FetchTimeout > 0 {
		fetchOpts = append(fetchOpts, fetcher.WithTimeout(m.cfg.FetchTimeout))
	}
	if m.cfg.UserAgent != "" {
		fetchOpts = append(fetchOpts, fetcher.WithUserAgent(m.cfg.UserAgent))
	}
	store := tilestore.New(sourceURL, tileCache, fetcher.New(m.logger, fetchOpts...), m.logger)

	l, err := layer.New(desc, store, layer.Options{
		MinLevel:          m.cfg.MinLevel,
		MaxLevel:          m.cfg.MaxLevel,
		Interpolator:      m.cfg.Interpolator,
		MosaicConcurrency: m.cfg.MosaicConcurrency,
		MaxMosaicTiles:    m.cfg.MaxMosaicTiles,
	}, m.logger.With(zap.String("source_url", sourceURL)))
	if err != nil {
		store.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost a race with a concurrent attach of the same source.
	if id, ok := m.byURL[sourceURL]; ok {
		l.Close()
		return m.overlays[id], nil
	}

	m.seq++
	o := &Overlay{
		ID:         uuid.New().String(),
		AttachedAt: time.Now().UTC(),
		Layer:      l,
		seq:        m.seq,
	}
	m.overlays[o.ID] = o
	m.byURL[sourceURL] = o.ID

	m.logger.Info("Attached overlay",
		zap.String("id", o.ID),
		zap.String("source_url", sourceURL),
		zap.Int("wkid", desc.WKID()),
		zap.Int("levels", len(desc.Levels())),
	)
	return o, nil
}

func (m *Manager) lookupURL(sourceURL string) *Overlay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byURL[sourceURL]; ok {
		return m.overlays[id]
	}
	return nil
}

// Detach drops the overlay together with its cached tiles.
func (m *Manager) Detach(id string) error {
	m.mu.Lock()
	o, ok := m.overlays[id]
	if ok {
		delete(m.overlays, id)
		delete(m.byURL, o.SourceURL())
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	o.Layer.Close()
	m.logger.Info("Detached overlay", zap.String("id", id), zap.String("source_url", o.SourceURL()))
	return nil
}

func (m *Manager) Get(id string) (*Overlay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overlays[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o, nil
}

// List returns attached overlays, oldest first.
func (m *Manager) List() []*Overlay {
	m.mu.RLock()
	out := make([]*Overlay, 0, len(m.overlays))
	for _, o := range m.overlays {
		out = append(out, o)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Close detaches every overlay.
func (m *Manager) Close() {
	for _, o := range m.List() {
		_ = m.Detach(o.ID)
	}
}
