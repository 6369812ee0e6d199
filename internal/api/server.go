// Package api exposes clone lifecycle operations over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/region"
)

// Lifecycle is the subset of the lifecycle coordinator the API drives.
type Lifecycle interface {
	EnsureReady(owner, source string, spec region.Spec) *lifecycle.Future
	Reset(owner, source string, spec region.Spec) *lifecycle.Future
	LoadExisting(ctx context.Context, owner string) lifecycle.Result
	Unload(ctx context.Context, owner string, persist bool) lifecycle.Result
	Exit(ctx context.Context, owner string) lifecycle.Result
	Status(ctx context.Context, owner string) (lifecycle.Status, error)
}

// JobHistory lists past copy jobs.
type JobHistory interface {
	Recent(ctx context.Context, identity string, limit int) ([]*ledger.Record, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
	// MaxWait bounds ?wait=true requests.
	MaxWait       time.Duration
	DefaultSource string
	DefaultRadius int
	// MaxRadius rejects wider requests with 400.
	MaxRadius int
	TileEdge  int
	TileExt   string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	lifecycle Lifecycle
	jobs      JobHistory
	naming    lifecycle.Naming
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, lc Lifecycle, jobs JobHistory, naming lifecycle.Naming, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxWait <= 0 {
		config.MaxWait = 2 * time.Minute
	}
	if config.TileEdge <= 0 {
		config.TileEdge = region.DefaultTileEdge
	}
	if config.MaxRadius <= 0 {
		config.MaxRadius = region.DefaultMaxRadius
	}
	if config.TileExt == "" {
		config.TileExt = "mca"
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		lifecycle: lc,
		jobs:      jobs,
		naming:    naming,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx ends or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Long enough for a waited clone request.
		WriteTimeout: s.config.MaxWait + 30*time.Second,
		IdleTimeout:  60 * time.Second,
		// Event streams end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/tiles", s.handleTiles)
		r.Get("/events", s.handleEvents)
		r.Route("/clones/{owner}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Get("/jobs", s.handleJobs)
			r.Post("/enter", s.handleEnter)
			r.Post("/reset", s.handleReset)
			r.Post("/load", s.handleLoad)
			r.Post("/unload", s.handleUnload)
			r.Post("/exit", s.handleExit)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
