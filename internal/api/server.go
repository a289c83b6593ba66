// Package api is the admin HTTP surface: start and cancel extractions, run
// bulk imports, read and edit entity records, and report health.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/directory-cli/internal/bulk"
	"github.com/sells-group/directory-cli/internal/extraction"
	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/resilience"
	"github.com/sells-group/directory-cli/internal/store"
)

// Extractor starts and cancels extractions.
type Extractor interface {
	StartExtraction(ctx context.Context, req guard.Request) (*extraction.Accepted, error)
	Cancel(ctx context.Context, entityID string) (bool, error)
}

// Config wires the server's dependencies.
type Config struct {
	Extractor Extractor
	Bulk      *bulk.Driver
	Store     store.Store
	// Breakers is optional; when set /health reports circuit states.
	Breakers       *resilience.ServiceBreakers
	AllowedOrigins []string
	// MaxBulkItems caps one bulk request. Default 1000.
	MaxBulkItems int
	// BaseContext bounds background bulk runs. Default context.Background().
	BaseContext context.Context
}

// Server holds handler dependencies.
type Server struct {
	ext      Extractor
	bulk     *bulk.Driver
	store    store.Store
	breakers *resilience.ServiceBreakers
	maxBulk  int
	base     context.Context
	origins  []string

	bg sync.WaitGroup
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.MaxBulkItems <= 0 {
		cfg.MaxBulkItems = 1000
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		ext:      cfg.Extractor,
		bulk:     cfg.Bulk,
		store:    cfg.Store,
		breakers: cfg.Breakers,
		maxBulk:  cfg.MaxBulkItems,
		base:     cfg.BaseContext,
		origins:  cfg.AllowedOrigins,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-Match"},
		ExposedHeaders: []string{"ETag"},
		MaxAge:         300,
	}))

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Logging)
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/extractions", s.StartExtraction)
		r.Get("/entities", s.ListEntities)
		r.Route("/entities/{id}", func(r chi.Router) {
			r.Get("/", s.GetEntity)
			r.Patch("/", s.PatchEntity)
			r.Post("/cancel", s.CancelExtraction)
		})
	})

	// Bulk runs can outlast the request timeout when ?wait=true.
	r.With(Logging).Post("/extractions/bulk", s.StartBulk)
	return r
}

// Wait blocks until background bulk runs finish.
func (s *Server) Wait() { s.bg.Wait() }
