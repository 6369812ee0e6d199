package api

import (
	"time"

	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/region"
)

// CloneRequest is the optional JSON body for POST /clones/{owner}/enter and /reset.
type CloneRequest struct {
	Source string       `json:"source,omitempty"`
	Center region.Point `json:"center"`
	// Radius defaults to the configured radius when omitted.
	Radius *int `json:"radius,omitempty"`
}

// CloneResponse reports the outcome of a lifecycle operation.
type CloneResponse struct {
	Owner    string `json:"owner"`
	Identity string `json:"identity"`
	OK       bool   `json:"ok"`
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message,omitempty"`
	Source   string `json:"source,omitempty"`
}

// AcceptedResponse is returned when a clone transition is still running.
type AcceptedResponse struct {
	Owner           string `json:"owner"`
	Identity        string `json:"identity"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	TimeoutExceeded bool   `json:"timeout_exceeded,omitempty"`
}

// TilesResponse is returned by GET /tiles.
type TilesResponse struct {
	Center region.Point   `json:"center"`
	Radius int            `json:"radius"`
	Count  int            `json:"count"`
	Bounds region.Bounds  `json:"bounds"`
	Tiles  []TileResponse `json:"tiles"`
}

type TileResponse struct {
	X    int    `json:"x"`
	Z    int    `json:"z"`
	File string `json:"file"`
}

// NewTilesResponse lists the tiles spec selects, in file order.
func NewTilesResponse(spec region.Spec, tileEdge int, ext string) TilesResponse {
	tiles := spec.Tiles(tileEdge)
	bounds, _ := tiles.Bounds()
	resp := TilesResponse{
		Center: spec.Center,
		Radius: spec.Radius,
		Count:  tiles.Len(),
		Bounds: bounds,
		Tiles:  make([]TileResponse, 0, tiles.Len()),
	}
	for _, c := range tiles.Sorted() {
		resp.Tiles = append(resp.Tiles, TileResponse{X: c.X, Z: c.Z, File: c.FileName(ext)})
	}
	return resp
}

// JobResponse is one ledger entry.
type JobResponse struct {
	ID          string      `json:"id"`
	Identity    string      `json:"identity"`
	Source      string      `json:"source"`
	Reason      string      `json:"reason"`
	Spec        region.Spec `json:"spec"`
	Tiles       int         `json:"tiles"`
	Status      string      `json:"status"`
	FailureKind string      `json:"failure_kind,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	Copied      int         `json:"tiles_copied"`
	Skipped     int         `json:"tiles_skipped"`
	Bytes       int64       `json:"bytes"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JobsResponse is returned by GET /clones/{owner}/jobs.
type JobsResponse struct {
	Identity string        `json:"identity"`
	Jobs     []JobResponse `json:"jobs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int    `json:"event_subscribers"`
	DroppedEvents int64  `json:"dropped_events"`
}

func toCloneResponse(owner string, res lifecycle.Result) CloneResponse {
	out := CloneResponse{
		Owner:    owner,
		Identity: res.Identity,
		OK:       res.OK,
		Kind:     string(res.Kind),
		Message:  res.Message,
		Source:   res.Source,
	}
	if out.Message == "" && res.Err != nil {
		out.Message = res.Err.Error()
	}
	return out
}

// ToJobResponse renders a ledger record for clients.
func ToJobResponse(rec *ledger.Record) JobResponse {
	out := JobResponse{
		ID:          rec.ID,
		Identity:    rec.Identity,
		Source:      rec.Source,
		Reason:      string(rec.Reason),
		Spec:        rec.Spec,
		Tiles:       rec.Tiles,
		Status:      string(rec.Status),
		Copied:      rec.Copied,
		Skipped:     rec.Skipped,
		Bytes:       rec.Bytes,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.FailureKind != nil {
		out.FailureKind = *rec.FailureKind
	}
	if rec.LastError != nil {
		out.LastError = *rec.LastError
	}
	return out
}
