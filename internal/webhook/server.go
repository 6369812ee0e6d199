package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/worldclone/internal/lifecycle"
)

// EventOccupants is published after every applied join or leave.
const EventOccupants = "clone.occupants"

type Server struct {
	config   Config
	presence Presence
	events   Publisher
	logger   *slog.Logger
	server   *http.Server
}

// New creates a presence hook server. events may be nil.
func New(cfg Config, presence Presence, events Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	return &Server{
		config:   cfg,
		presence: presence,
		events:   events,
		logger:   logger.With("component", "webhook"),
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Post(s.config.Path, s.handlePresence)
	return r
}

// loggingMiddleware logs requests without their bodies.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifySignature(body, r.Header.Get(s.config.SignatureHeader), s.config.Secret); err != nil {
		s.logger.Warn("webhook signature rejected", "header", s.config.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var ev PresenceEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.World == "" || ev.Player == "" {
		s.respondError(w, http.StatusBadRequest, "world and player are required")
		return
	}

	switch ev.Event {
	case EventJoin:
		if err := s.presence.Join(ev.World, ev.Player); err != nil {
			if errors.Is(err, lifecycle.ErrNotLoaded) {
				s.respondJSON(w, http.StatusOK, PresenceResponse{World: ev.World, Ignored: true})
				return
			}
			s.logger.Error("join failed", "world", ev.World, "player", ev.Player, "error", err)
			s.respondError(w, http.StatusInternalServerError, "join failed")
			return
		}
	case EventLeave:
		s.presence.Leave(ev.World, ev.Player)
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown event %q", ev.Event))
		return
	}

	resp := PresenceResponse{World: ev.World, Occupants: s.presence.Occupants(ev.World)}
	s.logger.Info("presence applied", "event", ev.Event, "world", ev.World, "player", ev.Player, "occupants", resp.Occupants)
	if s.events != nil {
		s.events.Publish(EventOccupants, map[string]any{
			"identity":  ev.World,
			"player":    ev.Player,
			"event":     ev.Event,
			"occupants": resp.Occupants,
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
