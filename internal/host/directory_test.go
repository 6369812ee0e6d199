package host

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/region"
	"github.com/mattjoyce/worldclone/internal/state"
	"github.com/mattjoyce/worldclone/internal/storage"
)

func newDirectory(t *testing.T) (*Directory, string, *state.Store) {
	t.Helper()
	base := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(base, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	source := filepath.Join(base, "world")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "region"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "level.dat"), []byte("meta"), 0o644))

	store := state.NewStore(db)
	d := NewDirectory(Options{
		Container: filepath.Join(base, "clones"),
		Sources:   map[string]string{"world": source, "gone": filepath.Join(base, "missing")},
		Store:     store,
		Settings: Settings{
			TimeOfDay:             6000,
			BorderWarningDistance: 50,
			BorderWarningTime:     15 * time.Second,
			Rules:                 map[string]any{"doMobSpawning": false, "keepInventory": true},
		},
	})
	return d, source, store
}

func makeClone(t *testing.T, d *Directory, identity string) {
	t.Helper()
	root := d.root(identity)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "region"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "level.dat"), []byte("meta"), 0o644))
}

func TestDirectoryExistsRequiresMetadata(t *testing.T) {
	d, _, _ := newDirectory(t)
	assert.False(t, d.Exists("design_alice"))

	require.NoError(t, os.MkdirAll(filepath.Join(d.root("design_alice"), "region"), 0o755))
	assert.False(t, d.Exists("design_alice"), "a tree without metadata is not a world")

	makeClone(t, d, "design_alice")
	assert.True(t, d.Exists("design_alice"))
}

func TestDirectoryLoadUnload(t *testing.T) {
	d, _, _ := newDirectory(t)
	ctx := context.Background()

	err := d.Load(ctx, "design_alice")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	makeClone(t, d, "design_alice")
	require.NoError(t, d.Load(ctx, "design_alice"))
	require.NoError(t, d.Load(ctx, "design_alice"), "load is idempotent")
	assert.Equal(t, []string{"design_alice"}, d.Loaded())

	require.NoError(t, d.Unload(ctx, "design_alice", true))
	assert.False(t, d.IsLoaded("design_alice"))
	assert.ErrorIs(t, d.Unload(ctx, "design_alice", false), lifecycle.ErrNotLoaded)
}

func TestDirectoryOccupants(t *testing.T) {
	d, _, _ := newDirectory(t)
	ctx := context.Background()

	assert.ErrorIs(t, d.Join("design_alice", "alice"), lifecycle.ErrNotLoaded)

	makeClone(t, d, "design_alice")
	require.NoError(t, d.Load(ctx, "design_alice"))
	require.NoError(t, d.Join("design_alice", "alice"))
	require.NoError(t, d.Join("design_alice", "alice"))
	require.NoError(t, d.Join("design_alice", "bob"))
	assert.Equal(t, 2, d.Occupants("design_alice"))

	d.Leave("design_alice", "alice")
	d.Leave("design_alice", "nobody")
	assert.Equal(t, 1, d.Occupants("design_alice"))

	d.Leave("design_alice", "bob")
	require.NoError(t, d.Unload(ctx, "design_alice", false))
	assert.Equal(t, 0, d.Occupants("design_alice"))
}

func TestDirectoryUnloadRefusesOccupiedWorld(t *testing.T) {
	d, _, _ := newDirectory(t)
	ctx := context.Background()

	makeClone(t, d, "design_alice")
	require.NoError(t, d.Load(ctx, "design_alice"))
	require.NoError(t, d.Join("design_alice", "bob"))

	for _, persist := range []bool{false, true} {
		err := d.Unload(ctx, "design_alice", persist)
		assert.ErrorIs(t, err, lifecycle.ErrOccupied, "persist=%v", persist)
	}
	assert.True(t, d.IsLoaded("design_alice"))
	assert.Equal(t, 1, d.Occupants("design_alice"))

	d.Leave("design_alice", "bob")
	require.NoError(t, d.Unload(ctx, "design_alice", true))
	assert.False(t, d.IsLoaded("design_alice"))
}

func TestDirectoryJoinRacingUnload(t *testing.T) {
	d, _, _ := newDirectory(t)
	ctx := context.Background()
	makeClone(t, d, "design_alice")

	for range 50 {
		require.NoError(t, d.Load(ctx, "design_alice"))
		joined := make(chan error, 1)
		go func() { joined <- d.Join("design_alice", "bob") }()
		err := d.Unload(ctx, "design_alice", true)
		joinErr := <-joined

		switch {
		case err == nil:
			// Unload won, so the join found the world gone.
			assert.False(t, d.IsLoaded("design_alice"))
			assert.ErrorIs(t, joinErr, lifecycle.ErrNotLoaded)
		case errors.Is(err, lifecycle.ErrOccupied):
			require.NoError(t, joinErr)
			assert.True(t, d.IsLoaded("design_alice"))
			assert.Equal(t, 1, d.Occupants("design_alice"))
			d.Leave("design_alice", "bob")
			require.NoError(t, d.Unload(ctx, "design_alice", false))
		default:
			t.Fatalf("Unload() error = %v", err)
		}
	}
}

func TestDirectoryPrepareStoresSettings(t *testing.T) {
	d, _, store := newDirectory(t)
	ctx := context.Background()
	spec := region.Spec{Center: region.Point{X: 100, Y: 64, Z: -250}, Radius: 1000}

	makeClone(t, d, "design_alice")
	assert.ErrorIs(t, d.Prepare(ctx, "design_alice", spec), lifecycle.ErrNotLoaded)

	require.NoError(t, d.Load(ctx, "design_alice"))
	require.NoError(t, d.Prepare(ctx, "design_alice", spec))

	got, err := store.Get(ctx, "design_alice")
	require.NoError(t, err)

	assert.Equal(t, 6000, got.TimeOfDay)
	assert.Equal(t, false, got.Rules["doMobSpawning"])
	assert.Equal(t, true, got.Rules["keepInventory"])
	assert.False(t, got.Weather.Storm)
	assert.False(t, got.Weather.Thundering)
	assert.Equal(t, 100, got.Border.CenterX)
	assert.Equal(t, -250, got.Border.CenterZ)
	assert.Equal(t, 2000, got.Border.Size)
	assert.Equal(t, 50, got.Border.WarningDistance)
	assert.False(t, got.PreparedAt.IsZero())
	assert.Equal(t, 15, got.Border.WarningTimeSeconds)
}

func TestDirectorySources(t *testing.T) {
	d, source, _ := newDirectory(t)

	root, err := d.SourceRoot("world")
	require.NoError(t, err)
	assert.Equal(t, source, root)
	assert.True(t, d.SourceExists("world"))

	_, err = d.SourceRoot("nether")
	assert.True(t, errors.Is(err, ErrUnknownSource))
	assert.False(t, d.SourceExists("gone"), "configured but missing on disk")
	assert.Equal(t, []string{"gone", "world"}, d.SourceNames())
}

func TestDirectoryFlushToleratesMissingEntries(t *testing.T) {
	d, source, _ := newDirectory(t)
	assert.NoError(t, d.Flush(context.Background(), source))
	assert.NoError(t, d.Flush(context.Background(), filepath.Join(source, "nope")))
}

func TestDirectoryServesCopier(t *testing.T) {
	d, source, _ := newDirectory(t)
	require.NoError(t, os.WriteFile(filepath.Join(source, "region", "r.0.0.mca"), []byte("tile"), 0o644))

	p := copier.New(copier.DefaultLayout(), copier.WithFlusher(d))
	job := p.Start(context.Background(), copier.NewJob("design_alice", source, d.root("design_alice"), region.NewSet(region.Coord{})))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	require.NoError(t, err)
	require.True(t, res.OK, "copy: %+v", res)
	assert.True(t, d.Exists("design_alice"))
}
