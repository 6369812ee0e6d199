// Package inspect renders a report of one clone: its tree on disk, the
// settings it was prepared with and its copy history.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/region"
	"github.com/mattjoyce/worldclone/internal/state"
)

// Options identifies the clone to inspect and where it lives.
type Options struct {
	Container string
	Layout    copier.Layout
	Naming    lifecycle.Naming
	TileEdge  int
	// JobLimit caps the history section. Zero means 10.
	JobLimit int
}

// Report is the structured JSON representation of a clone report.
type Report struct {
	Owner    string          `json:"owner"`
	Identity string          `json:"identity"`
	Path     string          `json:"path"`
	Exists   bool            `json:"exists"`
	Tiles    int             `json:"tiles_on_disk"`
	Bytes    int64           `json:"bytes"`
	Coverage *Coverage       `json:"coverage,omitempty"`
	Settings *state.Settings `json:"settings,omitempty"`
	Jobs     []Job           `json:"jobs"`
}

// Coverage compares the tiles on disk with the region of the last
// successful copy.
type Coverage struct {
	JobID    string   `json:"job_id"`
	Expected int      `json:"expected"`
	Present  int      `json:"present"`
	Skipped  int      `json:"skipped_at_copy"`
	Missing  []string `json:"missing,omitempty"`
}

// Job is one entry in the clone's copy history, newest first.
type Job struct {
	ID          string `json:"id"`
	Reason      string `json:"reason"`
	Source      string `json:"source"`
	Status      string `json:"status"`
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	Radius      int    `json:"radius"`
	Copied      int    `json:"tiles_copied"`
	Skipped     int    `json:"tiles_skipped"`
	Bytes       int64  `json:"bytes"`
	StartedAt   string `json:"started_at"`
}

// BuildReport renders a terminal-friendly report for owner's clone.
func BuildReport(ctx context.Context, db *sql.DB, opts Options, owner string) (string, error) {
	report, err := gatherReportData(ctx, db, opts, owner)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Clone Report\n")
	fmt.Fprintf(&out, "Owner       : %s\n", report.Owner)
	fmt.Fprintf(&out, "Identity    : %s\n", report.Identity)
	fmt.Fprintf(&out, "Path        : %s\n", report.Path)
	if !report.Exists {
		fmt.Fprintf(&out, "On disk     : <absent>\n")
	} else {
		fmt.Fprintf(&out, "On disk     : %d tile(s), %s\n", report.Tiles, humanize.IBytes(uint64(report.Bytes)))
	}
	if c := report.Coverage; c != nil {
		fmt.Fprintf(&out, "Coverage    : %d/%d tile(s) from job %s (%d absent in source)\n", c.Present, c.Expected, c.JobID, c.Skipped)
		for _, m := range c.Missing {
			fmt.Fprintf(&out, "      - missing %s\n", m)
		}
	}
	fmt.Fprintf(&out, "\n")

	writeSettings(&out, report.Settings)
	fmt.Fprintf(&out, "\n")

	if len(report.Jobs) == 0 {
		fmt.Fprintf(&out, "Jobs: <none>\n")
	} else {
		fmt.Fprintf(&out, "Jobs:\n")
	}
	for _, j := range report.Jobs {
		fmt.Fprintf(&out, "[%s] %s from %s :: %s\n", j.StartedAt, j.Reason, j.Source, j.Status)
		fmt.Fprintf(&out, "    job_id   : %s\n", j.ID)
		fmt.Fprintf(&out, "    radius   : %d\n", j.Radius)
		fmt.Fprintf(&out, "    tiles    : %d copied, %d skipped, %s\n", j.Copied, j.Skipped, humanize.IBytes(uint64(j.Bytes)))
		if j.FailureKind != "" {
			fmt.Fprintf(&out, "    failure  : %s: %s\n", j.FailureKind, renderUnset(j.Error, "<no detail>"))
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON clone report.
func BuildJSONReport(ctx context.Context, db *sql.DB, opts Options, owner string) (string, error) {
	report, err := gatherReportData(ctx, db, opts, owner)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, opts Options, owner string) (*Report, error) {
	if err := lifecycle.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if opts.JobLimit <= 0 {
		opts.JobLimit = 10
	}
	if opts.TileEdge <= 0 {
		opts.TileEdge = region.DefaultTileEdge
	}

	identity := opts.Naming.Identity(owner)
	root := filepath.Join(opts.Container, identity)
	report := &Report{
		Owner:    owner,
		Identity: identity,
		Path:     root,
		Jobs:     make([]Job, 0),
	}

	if info, err := os.Stat(opts.Layout.MetadataPath(root)); err == nil && info.Mode().IsRegular() {
		report.Exists = true
		report.Bytes = info.Size()
	}
	onDisk, bytes, err := listTiles(filepath.Join(root, opts.Layout.TileDir), opts.Layout.TileExt)
	if err != nil {
		return nil, fmt.Errorf("list tiles of %s: %w", identity, err)
	}
	report.Tiles = len(onDisk)
	report.Bytes += bytes

	settings, err := state.NewStore(db).Get(ctx, identity)
	switch {
	case err == nil:
		report.Settings = &settings
	case !errors.Is(err, state.ErrNotFound):
		return nil, fmt.Errorf("load settings of %s: %w", identity, err)
	}

	records, err := ledger.New(db).Recent(ctx, identity, opts.JobLimit)
	if err != nil {
		return nil, fmt.Errorf("load jobs of %s: %w", identity, err)
	}
	for _, rec := range records {
		report.Jobs = append(report.Jobs, toJob(rec))
		if report.Coverage == nil && rec.Status == ledger.StatusSucceeded && report.Exists {
			report.Coverage = coverage(rec, onDisk, opts)
		}
	}

	return report, nil
}

func coverage(rec *ledger.Record, onDisk map[string]bool, opts Options) *Coverage {
	c := &Coverage{JobID: rec.ID, Skipped: rec.Skipped}
	for _, tile := range rec.Spec.Tiles(opts.TileEdge).Sorted() {
		c.Expected++
		name := tile.FileName(opts.Layout.TileExt)
		if onDisk[name] {
			c.Present++
			continue
		}
		c.Missing = append(c.Missing, name)
	}
	// Tiles the source never had are not missing from the clone.
	if len(c.Missing) <= c.Skipped {
		c.Missing = nil
	}
	return c
}

func toJob(rec *ledger.Record) Job {
	j := Job{
		ID:        rec.ID,
		Reason:    string(rec.Reason),
		Source:    rec.Source,
		Status:    string(rec.Status),
		Radius:    rec.Spec.Radius,
		Copied:    rec.Copied,
		Skipped:   rec.Skipped,
		Bytes:     rec.Bytes,
		StartedAt: rec.StartedAt.Format("2006-01-02 15:04:05"),
	}
	if rec.FailureKind != nil {
		j.FailureKind = *rec.FailureKind
	}
	if rec.LastError != nil {
		j.Error = *rec.LastError
	}
	return j
}

// listTiles returns the tile file names under dir and their total size.
func listTiles(dir, ext string) (map[string]bool, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, 0, nil
		}
		return nil, 0, err
	}

	names := make(map[string]bool, len(entries))
	var total int64
	suffix := "." + ext
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), suffix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, 0, err
		}
		names[e.Name()] = true
		total += info.Size()
	}
	return names, total, nil
}

func writeSettings(out *strings.Builder, st *state.Settings) {
	if st == nil {
		fmt.Fprintf(out, "Settings: <none>\n")
		return
	}
	weather := "clear"
	if st.Weather.Storm || st.Weather.Thundering {
		weather = "stormy"
	}
	b := st.Border
	fmt.Fprintf(out, "Settings:\n")
	fmt.Fprintf(out, "  time of day : %d\n", st.TimeOfDay)
	fmt.Fprintf(out, "  weather     : %s\n", weather)
	fmt.Fprintf(out, "  border      : %d wide at (%d, %d), warn %d blocks / %ds\n",
		b.Size, b.CenterX, b.CenterZ, b.WarningDistance, b.WarningTimeSeconds)
	names := make([]string, 0, len(st.Rules))
	for name := range st.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  rule        : %s = %v\n", name, st.Rules[name])
	}
	if !st.PreparedAt.IsZero() {
		fmt.Fprintf(out, "  prepared    : %s\n", st.PreparedAt.Format(time.RFC3339))
	}
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
