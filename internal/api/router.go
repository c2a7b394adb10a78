package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string

	// AudioDir is served read-only under /audio/. Empty disables static serving.
	AudioDir string

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Synthesized files, addressed by the path returned from /v1/audio
	if cfg.AudioDir != "" {
		r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(audioFS{http.Dir(cfg.AudioDir)})))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestSize(1 << 20))

		// Audio
		r.Get("/audio", h.ListAudio)
		r.Post("/audio", h.GenerateAudio)
		r.Get("/audio/{hash}", h.GetAudio)

		// Batches
		r.Post("/batches", h.CreateBatch)
		r.Get("/batches/{id}", h.GetBatch)
	})

	return r
}

// audioFS exposes only the synthesized .mp3 files of a directory. Directory
// listings, the cache index and in-progress temp files all answer 404.
type audioFS struct {
	root http.FileSystem
}

func (a audioFS) Open(name string) (http.File, error) {
	base := path.Base(name)
	if path.Ext(base) != ".mp3" || strings.HasPrefix(base, ".") {
		return nil, fs.ErrNotExist
	}

	f, err := a.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
