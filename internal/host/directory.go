// Package host is a filesystem-backed host for clone worlds. It keeps the
// set of loaded worlds and their occupants in memory and stores each clone's
// normalised settings in the state store.
package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/region"
	"github.com/mattjoyce/worldclone/internal/state"
)

// ErrUnknownSource is returned for a source name that is not configured.
var ErrUnknownSource = errors.New("unknown source world")

// Settings are applied to every freshly copied clone.
type Settings struct {
	TimeOfDay             int
	BorderWarningDistance int
	BorderWarningTime     time.Duration
	Rules                 map[string]any
}

var (
	_ lifecycle.Host    = (*Directory)(nil)
	_ lifecycle.Setup   = (*Directory)(nil)
	_ lifecycle.Sources = (*Directory)(nil)
	_ copier.Flusher    = (*Directory)(nil)
)

type Directory struct {
	container string
	sources   map[string]string
	layout    copier.Layout
	settings  Settings
	store     *state.Store
	logger    *slog.Logger

	mu        sync.Mutex
	loaded    map[string]bool
	occupants map[string]map[string]struct{}
}

// Options for NewDirectory. Sources maps a source world name to its tree.
type Options struct {
	Container string
	Sources   map[string]string
	Layout    copier.Layout
	Settings  Settings
	Store     *state.Store
	Logger    *slog.Logger
}

func NewDirectory(opts Options) *Directory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Layout == (copier.Layout{}) {
		opts.Layout = copier.DefaultLayout()
	}
	sources := make(map[string]string, len(opts.Sources))
	for k, v := range opts.Sources {
		sources[k] = v
	}
	return &Directory{
		container: opts.Container,
		sources:   sources,
		layout:    opts.Layout,
		settings:  opts.Settings,
		store:     opts.Store,
		logger:    opts.Logger.With("component", "host"),
		loaded:    make(map[string]bool),
		occupants: make(map[string]map[string]struct{}),
	}
}

func (d *Directory) root(identity string) string {
	return filepath.Join(d.container, identity)
}

// Exists reports whether identity has a tree with a metadata file.
func (d *Directory) Exists(identity string) bool {
	info, err := os.Stat(d.layout.MetadataPath(d.root(identity)))
	return err == nil && info.Mode().IsRegular()
}

func (d *Directory) Load(_ context.Context, identity string) error {
	if !d.Exists(identity) {
		return fmt.Errorf("load %s: %w", identity, fs.ErrNotExist)
	}
	d.mu.Lock()
	d.loaded[identity] = true
	d.mu.Unlock()
	d.logger.Debug("world loaded", "identity", identity)
	return nil
}

// Unload drops identity from the loaded set. With persist the tree is
// flushed to disk first. An occupied world is refused with
// lifecycle.ErrOccupied and stays loaded.
func (d *Directory) Unload(ctx context.Context, identity string, persist bool) error {
	if err := d.unloadable(identity); err != nil {
		return err
	}

	if persist {
		if err := d.Flush(ctx, d.root(identity)); err != nil {
			return fmt.Errorf("save %s: %w", identity, err)
		}
	}

	// Someone may have joined during the flush.
	d.mu.Lock()
	if n := len(d.occupants[identity]); n > 0 {
		d.mu.Unlock()
		return fmt.Errorf("unload %s (%d occupant(s)): %w", identity, n, lifecycle.ErrOccupied)
	}
	delete(d.loaded, identity)
	d.mu.Unlock()
	d.logger.Debug("world unloaded", "identity", identity, "persist", persist)
	return nil
}

func (d *Directory) unloadable(identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded[identity] {
		return lifecycle.ErrNotLoaded
	}
	if n := len(d.occupants[identity]); n > 0 {
		return fmt.Errorf("unload %s (%d occupant(s)): %w", identity, n, lifecycle.ErrOccupied)
	}
	return nil
}

func (d *Directory) IsLoaded(identity string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded[identity]
}

// Loaded returns the loaded identities, sorted.
func (d *Directory) Loaded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.loaded))
	for id := range d.loaded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (d *Directory) Occupants(identity string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.occupants[identity])
}

// Join records who as present in a loaded world.
func (d *Directory) Join(identity, who string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded[identity] {
		return fmt.Errorf("join %s: %w", identity, lifecycle.ErrNotLoaded)
	}
	set, ok := d.occupants[identity]
	if !ok {
		set = make(map[string]struct{})
		d.occupants[identity] = set
	}
	set[who] = struct{}{}
	return nil
}

func (d *Directory) Leave(identity, who string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.occupants[identity]; ok {
		delete(set, who)
		if len(set) == 0 {
			delete(d.occupants, identity)
		}
	}
}

// Flush syncs the metadata file and tile directory under root to stable
// storage. Missing entries are ignored.
func (d *Directory) Flush(_ context.Context, root string) error {
	for _, p := range []string{d.layout.MetadataPath(root), filepath.Join(root, d.layout.TileDir), root} {
		if err := syncPath(p); err != nil {
			return err
		}
	}
	return nil
}

func syncPath(p string) error {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %q: %w", p, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %q: %w", p, err)
	}
	return nil
}

// Prepare stores the normalised settings of a fresh clone: rules, a fixed
// time of day, clear weather and a square border twice the radius wide
// centred on the clone's centre.
func (d *Directory) Prepare(ctx context.Context, identity string, spec region.Spec) error {
	if d.store == nil {
		return fmt.Errorf("prepare %s: settings store not configured", identity)
	}
	if !d.IsLoaded(identity) {
		return fmt.Errorf("prepare %s: %w", identity, lifecycle.ErrNotLoaded)
	}

	rules := make(map[string]any, len(d.settings.Rules))
	for k, v := range d.settings.Rules {
		rules[k] = v
	}
	settings := state.Settings{
		Rules:     rules,
		TimeOfDay: d.settings.TimeOfDay,
		Border: state.Border{
			CenterX:            spec.Center.X,
			CenterZ:            spec.Center.Z,
			Size:               2 * spec.Radius,
			WarningDistance:    d.settings.BorderWarningDistance,
			WarningTimeSeconds: int(d.settings.BorderWarningTime / time.Second),
		},
		PreparedAt: time.Now().UTC(),
	}
	if err := d.store.Put(ctx, identity, settings); err != nil {
		return fmt.Errorf("prepare %s: %w", identity, err)
	}
	d.logger.Info("world prepared", "identity", identity, "border_size", 2*spec.Radius)
	return nil
}

// SourceRoot returns the tree of a configured source world.
func (d *Directory) SourceRoot(name string) (string, error) {
	root, ok := d.sources[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownSource)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("source %q: %w", name, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source %q: %s is not a directory", name, root)
	}
	return root, nil
}

func (d *Directory) SourceExists(name string) bool {
	_, err := d.SourceRoot(name)
	return err == nil
}

// SourceNames returns the configured source names, sorted.
func (d *Directory) SourceNames() []string {
	out := make([]string, 0, len(d.sources))
	for name := range d.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
