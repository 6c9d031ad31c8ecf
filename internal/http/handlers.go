package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"golupatwari/internal/config"
	"golupatwari/internal/encode"
	"golupatwari/internal/overlay"
	"golupatwari/internal/tile_renderer"
	"golupatwari/internal/tilegrid"
)

// Blank tiles can be transient source failures.
const (
	tileCacheControl  = "public, max-age=31536000"
	blankCacheControl = "public, max-age=60"
)

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	overlays *overlay.Manager
	renderer *tile_renderer.Renderer
}

func New(config *config.Config, logger *zap.Logger, overlays *overlay.Manager, renderer *tile_renderer.Renderer) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		overlays: overlays,
		renderer: renderer,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/overlays", h.HandleOverlays)
	mux.HandleFunc("/api/overlays/", h.HandleOverlayRoutes)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	return mux
}

// Handler is the mux wrapped in the CORS and request logging middleware.
func (h *Handlers) Handler() http.Handler {
	return h.CORSMiddleware(h.RequestLoggingMiddleware(h.Routes()))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		w.Header().Set("X-Request-Id", requestID)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Tile-Mode, X-Tile-Source-Level, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type attachRequest struct {
	URL string `json:"url"`
}

// HandleOverlays lists attached overlays (GET) or attaches one (POST).
func (h *Handlers) HandleOverlays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := h.overlays.List()
		infos := make([]overlay.Info, 0, len(list))
		for _, o := range list {
			infos = append(infos, o.Info())
		}
		writeJSON(w, http.StatusOK, infos)
	case http.MethodPost:
		h.handleAttach(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		http.Error(w, "url must be an http(s) tile service address", http.StatusBadRequest)
		return
	}

	o, err := h.overlays.Attach(r.Context(), req.URL)
	if err != nil {
		h.logger.Warn("Failed to attach overlay", zap.String("source_url", req.URL), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, tilegrid.ErrLevelNotFound) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, o.Info())
}

func (h *Handlers) HandleOverlayRoutes(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/api/overlays/")
	parts := strings.Split(strings.Trim(p, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	overlayID := parts[0]

	switch {
	case len(parts) == 1:
		h.handleOverlay(w, r, overlayID)
	case len(parts) == 5 && parts[1] == "tile":
		h.handleTileWithParams(w, r, overlayID, parts[2:])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleOverlay(w http.ResponseWriter, r *http.Request, overlayID string) {
	switch r.Method {
	case http.MethodGet:
		o, err := h.overlays.Get(overlayID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, o.Info())
	case http.MethodDelete:
		if err := h.overlays.Detach(overlayID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleTileWithParams(w http.ResponseWriter, r *http.Request, overlayID string, tileParts []string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	level, err := strconv.Atoi(tileParts[0])
	if err != nil {
		http.Error(w, "Invalid level", http.StatusBadRequest)
		return
	}
	row, err := strconv.Atoi(tileParts[1])
	if err != nil {
		http.Error(w, "Invalid row", http.StatusBadRequest)
		return
	}

	tileFile := tileParts[2]
	ext := path.Ext(tileFile)
	col, err := strconv.Atoi(strings.TrimSuffix(tileFile, ext))
	if err != nil {
		http.Error(w, "Invalid col", http.StatusBadRequest)
		return
	}

	if level < 0 || row < 0 || col < 0 {
		http.Error(w, "Coordinates must be non-negative", http.StatusBadRequest)
		return
	}
	if level > tilegrid.MaxLevel {
		http.Error(w, "Level out of range", http.StatusBadRequest)
		return
	}

	result, err := h.renderer.RenderTile(r.Context(), overlayID, level, row, col, encode.NormalizeFormat(ext))
	if err != nil {
		switch {
		case errors.Is(err, overlay.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, encode.ErrUnsupportedFormat):
			http.Error(w, "Invalid format", http.StatusBadRequest)
		default:
			h.logger.Error("Failed to render tile", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	etag := `"` + result.ETag + `"`
	w.Header().Set("ETag", etag)
	if result.Tiles == 0 {
		w.Header().Set("Cache-Control", blankCacheControl)
	} else {
		w.Header().Set("Cache-Control", tileCacheControl)
	}
	w.Header().Set("X-Tile-Mode", result.Mode.String())
	w.Header().Set("X-Tile-Source-Level", strconv.Itoa(result.SourceLevel))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(result.Size))
	w.Header().Set("X-Tile-Bytes", strconv.Itoa(result.Size))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(result.Data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
