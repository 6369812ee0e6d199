package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/region"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Subscribers:   s.events.Subscribers(),
		DroppedEvents: s.events.Dropped(),
	})
}

// handleTiles handles GET /tiles?x=&z=&radius=
// Previews the tile selection for a region without copying anything.
func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := intParam(q.Get("x"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "x must be an integer")
		return
	}
	z, err := intParam(q.Get("z"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "z must be an integer")
		return
	}
	radius, err := intParam(q.Get("radius"), s.config.DefaultRadius)
	if err != nil || radius < 0 {
		s.writeError(w, http.StatusBadRequest, "radius must be a non-negative integer")
		return
	}
	if msg := s.checkRadius(radius); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	spec := region.Spec{Center: region.Point{X: x, Z: z}, Radius: radius}
	resp := NewTilesResponse(spec, s.config.TileEdge, s.config.TileExt)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) checkRadius(radius int) string {
	if radius > s.config.MaxRadius {
		return fmt.Sprintf("radius must not exceed %d", s.config.MaxRadius)
	}
	return ""
}

// handleStatus handles GET /clones/{owner}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	st, err := s.lifecycle.Status(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleJobs handles GET /clones/{owner}/jobs?limit=
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if err := lifecycle.ValidateOwner(owner); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 20)
	if err != nil || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	identity := s.naming.Identity(owner)
	records, err := s.jobs.Recent(r.Context(), identity, limit)
	if err != nil {
		s.logger.Error("failed to list clone jobs", "identity", identity, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := JobsResponse{Identity: identity, Jobs: make([]JobResponse, 0, len(records))}
	for _, rec := range records {
		resp.Jobs = append(resp.Jobs, ToJobResponse(rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleEnter handles POST /clones/{owner}/enter
// Makes the owner's clone ready, copying it first when it does not exist.
func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	s.handleCreate(w, r, s.lifecycle.EnsureReady)
}

// handleReset handles POST /clones/{owner}/reset
// Discards the owner's clone and copies a fresh one.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.handleCreate(w, r, s.lifecycle.Reset)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, start func(owner, source string, spec region.Spec) *lifecycle.Future) {
	owner := chi.URLParam(r, "owner")

	var req CloneRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	spec := region.Spec{Center: req.Center, Radius: s.config.DefaultRadius}
	if req.Radius != nil {
		if *req.Radius < 0 {
			s.writeError(w, http.StatusBadRequest, "radius must be non-negative")
			return
		}
		spec.Radius = *req.Radius
	}
	if msg := s.checkRadius(spec.Radius); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	source := req.Source
	if source == "" {
		source = s.config.DefaultSource
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	future := start(owner, source, spec)

	if wait {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxWait)
		defer cancel()

		res, err := future.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.respondAccepted(w, r, owner, true)
				return
			}
			// Client went away; the transition carries on without it.
			return
		}
		s.respondResult(w, owner, res)
		return
	}

	if res, ok := future.Result(); ok {
		s.respondResult(w, owner, res)
		return
	}
	s.respondAccepted(w, r, owner, false)
}

// handleLoad handles POST /clones/{owner}/load
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	s.respondResult(w, owner, s.lifecycle.LoadExisting(r.Context(), owner))
}

// handleUnload handles POST /clones/{owner}/unload?save=false
// Saves before unloading unless save=false.
func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	persist := true
	if v := r.URL.Query().Get("save"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "save must be a boolean")
			return
		}
		persist = b
	}
	s.respondResult(w, owner, s.lifecycle.Unload(r.Context(), owner, persist))
}

// handleExit handles POST /clones/{owner}/exit
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	s.respondResult(w, owner, s.lifecycle.Exit(r.Context(), owner))
}

func (s *Server) respondAccepted(w http.ResponseWriter, r *http.Request, owner string, timedOut bool) {
	resp := AcceptedResponse{Owner: owner, Status: string(lifecycle.StateCopying), TimeoutExceeded: timedOut}
	if st, err := s.lifecycle.Status(r.Context(), owner); err == nil {
		resp.Identity = st.Identity
		resp.Status = string(st.State)
		resp.Progress = st.Progress
	}
	respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) respondResult(w http.ResponseWriter, owner string, res lifecycle.Result) {
	if !res.OK && statusFor(res) == http.StatusInternalServerError {
		s.logger.Warn("clone operation failed", "owner", owner, "kind", res.Kind, "error", res.Err)
	}
	respondJSON(w, statusFor(res), toCloneResponse(owner, res))
}

// statusFor maps a lifecycle result onto an HTTP status code.
func statusFor(res lifecycle.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Kind {
	case lifecycle.KindNotFound:
		return http.StatusNotFound
	case lifecycle.KindOccupied, lifecycle.KindBusy, lifecycle.KindMissingOriginal:
		return http.StatusConflict
	case lifecycle.KindInvalid, lifecycle.KindUnknownSource:
		return http.StatusBadRequest
	case lifecycle.KindInterrupted, lifecycle.KindClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
