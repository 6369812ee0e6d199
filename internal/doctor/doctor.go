// Package doctor checks a loaded worldclone configuration against the
// filesystem it will run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/worldclone/internal/config"
	"github.com/mattjoyce/worldclone/internal/region"
	"github.com/mattjoyce/worldclone/internal/storage"
)

// maxTiles is the selection size above which a radius is flagged.
const maxTiles = 4096

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration against the host filesystem.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateSources(r)
	d.validateContainer(r)
	d.validateAPIConfig(r)
	d.warnLargeRadius(r)
	d.warnStrayClones(r)
	d.warnPerformance(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) sourceNames() []string {
	names := make([]string, 0, len(d.cfg.World.Sources))
	for name := range d.cfg.World.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateSources checks every source world is a readable tree with
// metadata.
func (d *Doctor) validateSources(r *Result) {
	w := d.cfg.World
	if len(w.Sources) == 0 {
		d.addError(r, "sources", "world.sources", "no source worlds configured")
		return
	}
	for _, name := range d.sourceNames() {
		dir := w.Sources[name]
		field := "world.sources." + name

		info, err := os.Stat(dir)
		if err != nil {
			d.addError(r, "sources", field, fmt.Sprintf("source %q: %v", name, err))
			continue
		}
		if !info.IsDir() {
			d.addError(r, "sources", field, fmt.Sprintf("source %q is not a directory", name))
			continue
		}
		if meta, err := os.Stat(filepath.Join(dir, w.MetadataFile)); err != nil || !meta.Mode().IsRegular() {
			d.addError(r, "sources", field, fmt.Sprintf("source %q has no %s", name, w.MetadataFile))
		}
		if _, err := os.Stat(filepath.Join(dir, w.TileDir)); err != nil {
			d.addWarning(r, "sources", field, fmt.Sprintf("source %q has no %s directory; clones will hold metadata only", name, w.TileDir))
		}
		if within(dir, w.Container) {
			d.addError(r, "sources", field, fmt.Sprintf("source %q lies inside world.container", name))
		}
		if strings.HasPrefix(filepath.Base(filepath.Clean(dir)), w.NamePrefix) {
			d.addWarning(r, "sources", field, fmt.Sprintf("source %q is named like a clone (prefix %q)", name, w.NamePrefix))
		}
	}
	if w.DefaultSourceName() == "" {
		d.addWarning(r, "sources", "world.default_source", "no default source; every request must name one")
	}
}

// validateContainer checks clones can be created.
func (d *Doctor) validateContainer(r *Result) {
	dir := d.cfg.World.Container
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		parent := filepath.Dir(filepath.Clean(dir))
		if _, perr := os.Stat(parent); perr != nil {
			d.addError(r, "container", "world.container", fmt.Sprintf("neither %s nor its parent exists", dir))
			return
		}
		d.addWarning(r, "container", "world.container", fmt.Sprintf("%s does not exist yet; it will be created", dir))
		return
	case err != nil:
		d.addError(r, "container", "world.container", err.Error())
		return
	case !info.IsDir():
		d.addError(r, "container", "world.container", fmt.Sprintf("%s is not a directory", dir))
		return
	}

	probe, err := os.CreateTemp(dir, ".worldclone-doctor-*")
	if err != nil {
		d.addError(r, "container", "world.container", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	var nm *storage.NetworkMount
	if err := storage.RequireLocal(dir); errors.As(err, &nm) {
		d.addWarning(r, "container", "world.container", fmt.Sprintf("%s is on %s; flushes may not reach disk before a clone loads", dir, nm.FSType))
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if len(d.cfg.API.Auth.APIKey) < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "API key is shorter than 16 characters")
	}
	if host := strings.Split(d.cfg.API.Listen, ":")[0]; host == "" || host == "0.0.0.0" {
		d.addWarning(r, "api", "api.listen", "API listens on all interfaces")
	}
}

// warnLargeRadius flags radii that select an unusually large tile set. The
// widest request max_radius admits is checked alongside the default.
func (d *Doctor) warnLargeRadius(r *Result) {
	w := d.cfg.World
	edge := w.TileEdge
	if edge <= 0 {
		edge = region.DefaultTileEdge
	}
	for _, c := range []struct {
		field  string
		radius int
	}{{"world.radius", w.Radius}, {"world.max_radius", w.MaxRadius}} {
		side := 2*(c.radius/edge+1) + 1
		if side*side <= maxTiles {
			continue
		}
		// Past a few hundred tiles a side the bounding square is close enough.
		msg := fmt.Sprintf("radius %d selects about %d tiles per clone", c.radius, side*side)
		if side <= 256 {
			n := region.Select(region.Point{}, c.radius, edge).Len()
			if n <= maxTiles {
				continue
			}
			msg = fmt.Sprintf("radius %d selects %d tiles per clone", c.radius, n)
		}
		d.addWarning(r, "world", c.field, msg)
	}
}

// warnStrayClones reports container entries that do not carry the clone prefix.
func (d *Doctor) warnStrayClones(r *Result) {
	entries, err := os.ReadDir(d.cfg.World.Container)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !strings.HasPrefix(e.Name(), d.cfg.World.NamePrefix) {
			d.addWarning(r, "container", "world.container",
				fmt.Sprintf("%s is not a clone directory (prefix %q)", e.Name(), d.cfg.World.NamePrefix))
		}
	}
}

func (d *Doctor) warnPerformance(r *Result) {
	p := d.cfg.Performance
	if p.CopyDelay == 0 {
		d.addWarning(r, "performance", "performance.copy_delay", "copies are unpaced; large clones may starve the live world of disk bandwidth")
	}
	if p.ProgressInterval == 0 {
		d.addWarning(r, "performance", "performance.progress_interval", "periodic progress updates are disabled")
	}
}

// within reports whether path lies under dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
