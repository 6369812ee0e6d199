package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/worldclone/internal/config"
)

// validConfig returns a config whose source and container exist on disk.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	source := filepath.Join(base, "world")
	if err := os.MkdirAll(filepath.Join(source, "region"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "level.dat"), []byte("meta"), 0o644); err != nil {
		t.Fatal(err)
	}
	container := filepath.Join(base, "designs")
	if err := os.MkdirAll(container, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.World.Container = container
	cfg.World.Sources = map[string]string{"world": source}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_NoSources(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.World.Sources = nil
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "sources", "no source worlds")
}

func TestValidate_SourceMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.World.Sources["gone"] = filepath.Join(t.TempDir(), "nope")
	r := New(cfg).Validate()
	assertHasError(t, r, "sources", `source "gone"`)
}

func TestValidate_SourceWithoutMetadata(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	bare := t.TempDir()
	cfg.World.Sources["bare"] = bare
	r := New(cfg).Validate()
	assertHasError(t, r, "sources", "has no level.dat")
	assertHasWarning(t, r, "sources", "has no region directory")
}

func TestValidate_WarnNoDefaultSource(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	other := t.TempDir()
	if err := os.MkdirAll(filepath.Join(other, "region"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(other, "level.dat"), []byte("meta"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.World.Sources["nether"] = other
	assertHasWarning(t, New(cfg).Validate(), "sources", "no default source")

	cfg.World.DefaultSource = "world"
	if r := New(cfg).Validate(); len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_SourceInsideContainer(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	inner := filepath.Join(cfg.World.Container, "design_copy")
	if err := os.MkdirAll(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inner, "level.dat"), []byte("meta"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.World.Sources["copy"] = inner
	r := New(cfg).Validate()
	assertHasError(t, r, "sources", "inside world.container")
	assertHasWarning(t, r, "sources", "named like a clone")
}

func TestValidate_ContainerNotYetCreated(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.World.Container = filepath.Join(t.TempDir(), "later")
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "container", "will be created")

	cfg.World.Container = filepath.Join(t.TempDir(), "a", "b")
	assertHasError(t, New(cfg).Validate(), "container", "nor its parent")
}

func TestValidate_ContainerIsFile(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "designs")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.World.Container = file
	assertHasError(t, New(cfg).Validate(), "container", "not a directory")
}

func TestValidate_WarnStrayDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	for _, name := range []string{"design_alice", "backups", ".cache"} {
		if err := os.MkdirAll(filepath.Join(cfg.World.Container, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	r := New(cfg).Validate()
	assertHasWarning(t, r, "container", "backups is not a clone directory")
	if len(r.Warnings) != 1 {
		t.Fatalf("expected one warning, got: %v", r.Warnings)
	}
}

func TestValidate_WarnAPI(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8080"
	cfg.API.Auth.APIKey = "short"
	r := New(cfg).Validate()
	assertHasWarning(t, r, "api", "shorter than 16")
	assertHasWarning(t, r, "api", "all interfaces")
}

func TestValidate_WarnLargeRadius(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.World.Radius = 20000
	assertHasWarning(t, New(cfg).Validate(), "world", "selects")

	cfg = validConfig(t)
	cfg.World.MaxRadius = 1_000_000
	assertHasWarning(t, New(cfg).Validate(), "world", "radius 1000000 selects about")
}

func TestValidate_WarnPerformance(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Performance.CopyDelay = 0
	cfg.Performance.ProgressInterval = 0
	r := New(cfg).Validate()
	assertHasWarning(t, r, "performance", "unpaced")
	assertHasWarning(t, r, "performance", "disabled")

	cfg.Performance.CopyDelay = time.Millisecond
	cfg.Performance.ProgressInterval = time.Second
	if r := New(cfg).Validate(); len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestWithin(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path, dir string
		want      bool
	}{
		{"/srv/designs/a", "/srv/designs", true},
		{"/srv/designs", "/srv/designs", true},
		{"/srv/designs-old/a", "/srv/designs", false},
		{"/srv/world", "/srv/designs", false},
		{"/srv/..data", "/srv", true},
	}
	for _, c := range cases {
		if got := within(c.path, c.dir); got != c.want {
			t.Fatalf("within(%q, %q) = %v, want %v", c.path, c.dir, got, c.want)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "iffy"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] iffy") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
