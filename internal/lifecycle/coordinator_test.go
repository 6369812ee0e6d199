package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/region"
	"github.com/mattjoyce/worldclone/internal/storage"
)

// fakeHost treats a tree with a metadata file as an existing world.
type fakeHost struct {
	container string

	mu        sync.Mutex
	loaded    map[string]bool
	occupants map[string]int
	loadErr   error
	unloadErr error
	loads     int
	unloads   []bool
}

func newFakeHost(container string) *fakeHost {
	return &fakeHost{
		container: container,
		loaded:    make(map[string]bool),
		occupants: make(map[string]int),
	}
}

func (h *fakeHost) Exists(identity string) bool {
	_, err := os.Stat(filepath.Join(h.container, identity, "level.dat"))
	return err == nil
}

func (h *fakeHost) Load(_ context.Context, identity string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads++
	if h.loadErr != nil {
		return h.loadErr
	}
	h.loaded[identity] = true
	return nil
}

func (h *fakeHost) Unload(_ context.Context, identity string, persist bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded[identity] {
		return ErrNotLoaded
	}
	if h.unloadErr != nil {
		return h.unloadErr
	}
	if h.occupants[identity] > 0 {
		return ErrOccupied
	}
	delete(h.loaded, identity)
	h.unloads = append(h.unloads, persist)
	return nil
}

func (h *fakeHost) Occupants(identity string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.occupants[identity]
}

func (h *fakeHost) failUnload(err error) {
	h.mu.Lock()
	h.unloadErr = err
	h.mu.Unlock()
}

func (h *fakeHost) setOccupants(identity string, n int) {
	h.mu.Lock()
	h.occupants[identity] = n
	h.mu.Unlock()
}

func (h *fakeHost) isLoaded(identity string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded[identity]
}

func (h *fakeHost) loadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}

func (h *fakeHost) unloadCalls() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.unloads...)
}

type fakeSetup struct {
	mu    sync.Mutex
	specs []region.Spec
	err   error
}

func (s *fakeSetup) Prepare(_ context.Context, _ string, spec region.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	return s.err
}

func (s *fakeSetup) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

type fakeSources map[string]string

func (s fakeSources) SourceRoot(name string) (string, error) {
	root, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%q: %w", name, fs.ErrNotExist)
	}
	return root, nil
}

func (s fakeSources) SourceExists(name string) bool {
	root, ok := s[name]
	if !ok {
		return false
	}
	_, err := os.Stat(root)
	return err == nil
}

// gateFlusher blocks every flush until release is called.
type gateFlusher struct {
	calls atomic.Int32
	gate  chan struct{}
	once  sync.Once
}

func newGateFlusher() *gateFlusher { return &gateFlusher{gate: make(chan struct{})} }

func (f *gateFlusher) Flush(ctx context.Context, _ string) error {
	f.calls.Add(1)
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *gateFlusher) release() { f.once.Do(func() { close(f.gate) }) }

type harness struct {
	coord     *Coordinator
	host      *fakeHost
	setup     *fakeSetup
	source    string
	container string
	hub       *events.Hub
}

type harnessOpts struct {
	flusher   copier.Flusher
	delay     time.Duration
	recorder  Recorder
	maxRadius int
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	base := t.TempDir()
	source := filepath.Join(base, "world")
	container := filepath.Join(base, "clones")

	// Every tile a radius of 1024 could select exists in the source.
	tiles := region.Select(region.Point{}, 1024, region.DefaultTileEdge)
	layout := copier.DefaultLayout()
	require.NoError(t, os.MkdirAll(filepath.Join(source, layout.TileDir), 0o755))
	require.NoError(t, os.WriteFile(layout.MetadataPath(source), []byte("meta"), 0o644))
	for _, c := range tiles.Sorted() {
		require.NoError(t, os.WriteFile(layout.TilePath(source, c), []byte(c.String()), 0o644))
	}

	popts := []copier.Option{copier.WithCopyDelay(opts.delay)}
	if opts.flusher != nil {
		popts = append(popts, copier.WithFlusher(opts.flusher))
	}

	h := newFakeHost(container)
	s := &fakeSetup{}
	hub := events.NewHub(256)
	coord := New(Config{Container: container, MaxRadius: opts.maxRadius}, Deps{
		Host:     h,
		Setup:    s,
		Sources:  fakeSources{"world": source},
		Pipeline: copier.New(layout, popts...),
		Recorder: opts.recorder,
		Events:   hub,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return &harness{coord: coord, host: h, setup: s, source: source, container: container, hub: hub}
}

func wait(t *testing.T, f *Future) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	require.NoError(t, err, "future did not resolve")
	return res
}

func spec(radius int) region.Spec {
	return region.Spec{Center: region.Point{X: 0, Y: 64, Z: 0}, Radius: radius}
}

func tileFiles(t *testing.T, root string) map[string]bool {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "region"))
	require.NoError(t, err)
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name()] = true
	}
	return out
}

func TestEnsureReadyCopiesLoadsAndPrepares(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	res := wait(t, h.coord.EnsureReady("alice", "world", spec(600)))
	require.True(t, res.OK, "result: %+v", res)
	assert.Equal(t, "design_alice", res.Identity)
	assert.Equal(t, "world", res.Source)

	assert.True(t, h.host.isLoaded("design_alice"))
	require.Equal(t, 1, h.setup.calls())
	assert.Equal(t, spec(600), h.setup.specs[0])

	id, ok := h.coord.Registry().Owned("alice")
	assert.True(t, ok)
	assert.Equal(t, "design_alice", id)
	assert.Equal(t, 0, h.coord.Registry().ActiveCount())

	files := tileFiles(t, h.coord.TargetRoot("design_alice"))
	assert.Len(t, files, 20)

	st, err := h.coord.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "world", st.Source)
}

func TestEnsureReadyDedupsConcurrentRequests(t *testing.T) {
	flusher := newGateFlusher()
	h := newHarness(t, harnessOpts{flusher: flusher})

	first := h.coord.EnsureReady("alice", "world", spec(600))
	require.Eventually(t, func() bool { return flusher.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	second := h.coord.EnsureReady("alice", "world", spec(600))
	assert.Same(t, first, second, "second request must attach to the running copy")

	st, err := h.coord.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateCopying, st.State)

	// Other transitions are refused while the copy runs.
	busy := h.coord.LoadExisting(context.Background(), "alice")
	assert.Equal(t, KindBusy, busy.Kind)

	flusher.release()
	r1 := wait(t, first)
	r2 := wait(t, second)
	require.True(t, r1.OK, "result: %+v", r1)
	assert.Equal(t, r1, r2)

	assert.Equal(t, int32(1), flusher.calls.Load())
	assert.Equal(t, 1, h.host.loadCount())
	assert.Equal(t, 1, h.setup.calls())
}

func TestEnsureReadyManyCallersOneCopy(t *testing.T) {
	flusher := newGateFlusher()
	h := newHarness(t, harnessOpts{flusher: flusher})

	const n = 16
	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures[i] = h.coord.EnsureReady("alice", "world", spec(600))
		}()
	}
	wg.Wait()
	flusher.release()

	for _, f := range futures {
		res := wait(t, f)
		assert.True(t, res.OK)
	}
	assert.Equal(t, int32(1), flusher.calls.Load())
}

func TestEnsureReadyLoadsExistingClone(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	require.Equal(t, 1, h.setup.calls())

	require.True(t, h.coord.Unload(context.Background(), "alice", true).OK)

	res := wait(t, h.coord.EnsureReady("alice", "world", spec(5000)))
	require.True(t, res.OK)
	assert.Equal(t, "clone loaded", res.Message)
	assert.Equal(t, 1, h.setup.calls(), "an existing clone is not prepared again")
	assert.Len(t, tileFiles(t, h.coord.TargetRoot("design_alice")), 8, "an existing clone is not recopied")
}

func TestEnsureReadyFailures(t *testing.T) {
	t.Run("unknown source", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		res := wait(t, h.coord.EnsureReady("alice", "nether", spec(0)))
		assert.False(t, res.OK)
		assert.Equal(t, KindUnknownSource, res.Kind)
		_, owned := h.coord.Registry().Owned("alice")
		assert.False(t, owned)
	})

	t.Run("missing metadata", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.NoError(t, os.Remove(filepath.Join(h.source, "level.dat")))
		res := wait(t, h.coord.EnsureReady("alice", "world", spec(0)))
		assert.Equal(t, KindMissingMetadata, res.Kind)
		assert.Equal(t, 0, h.host.loadCount())

		st, err := h.coord.Status(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, StateAbsent, st.State)
	})

	t.Run("host load", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.host.loadErr = errors.New("host refused")
		res := wait(t, h.coord.EnsureReady("alice", "world", spec(0)))
		assert.Equal(t, KindHost, res.Kind)
		assert.Equal(t, 0, h.setup.calls())
		_, owned := h.coord.Registry().Owned("alice")
		assert.False(t, owned)
	})

	t.Run("prepare", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.setup.err = errors.New("border")
		res := wait(t, h.coord.EnsureReady("alice", "world", spec(0)))
		assert.Equal(t, KindHost, res.Kind)
		assert.False(t, h.host.isLoaded("design_alice"), "failed prepare unloads the clone")
		_, owned := h.coord.Registry().Owned("alice")
		assert.False(t, owned)
	})

	t.Run("invalid owner", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		res := wait(t, h.coord.EnsureReady("../etc", "world", spec(0)))
		assert.Equal(t, KindInvalid, res.Kind)
	})
}

func TestResetRemovesStaleTiles(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	root := h.coord.TargetRoot("design_alice")

	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(1024))).OK)
	require.Len(t, tileFiles(t, root), 40)

	// A file the copy never produces must not survive either.
	require.NoError(t, os.WriteFile(filepath.Join(root, "region", "r.99.99.mca"), []byte("stale"), 0o644))

	res := wait(t, h.coord.Reset("alice", "world", spec(0)))
	require.True(t, res.OK, "result: %+v", res)

	want := region.Select(region.Point{}, 0, region.DefaultTileEdge)
	files := tileFiles(t, root)
	assert.Len(t, files, want.Len())
	for _, c := range want.Sorted() {
		assert.True(t, files[c.FileName("mca")], "missing %s", c)
	}
	assert.Equal(t, []bool{false}, h.host.unloadCalls(), "reset discards without saving")
	assert.Equal(t, 2, h.setup.calls())
}

func TestResetWithoutExistingClone(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	res := wait(t, h.coord.Reset("alice", "world", spec(0)))
	require.True(t, res.OK, "result: %+v", res)
	assert.True(t, h.host.isLoaded("design_alice"))
}

func TestResetRefusesOccupiedClone(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	h.host.setOccupants("design_alice", 1)

	res := wait(t, h.coord.Reset("alice", "world", spec(0)))
	assert.Equal(t, KindOccupied, res.Kind)
	assert.True(t, h.host.Exists("design_alice"), "occupied clone must not be deleted")
	_, owned := h.coord.Registry().Owned("alice")
	assert.True(t, owned)
}

func TestResetDuringEnsureCopyIsBusy(t *testing.T) {
	flusher := newGateFlusher()
	h := newHarness(t, harnessOpts{flusher: flusher})

	first := h.coord.EnsureReady("alice", "world", spec(600))
	require.Eventually(t, func() bool { return flusher.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	res := wait(t, h.coord.Reset("alice", "world", spec(0)))
	assert.Equal(t, KindBusy, res.Kind, "result: %+v", res)

	flusher.release()
	require.True(t, wait(t, first).OK)
	root := h.coord.TargetRoot("design_alice")
	require.Len(t, tileFiles(t, root), 20)

	res = wait(t, h.coord.Reset("alice", "world", spec(0)))
	require.True(t, res.OK, "result: %+v", res)
	assert.Len(t, tileFiles(t, root), spec(0).Tiles(region.DefaultTileEdge).Len())
}

func TestResetSharesMatchingReset(t *testing.T) {
	flusher := newGateFlusher()
	h := newHarness(t, harnessOpts{flusher: flusher})

	first := h.coord.Reset("alice", "world", spec(0))
	require.Eventually(t, func() bool { return flusher.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	assert.Same(t, first, h.coord.Reset("alice", "world", spec(0)))
	assert.Same(t, first, h.coord.EnsureReady("alice", "world", spec(600)), "ensure takes any fresh copy")

	other := wait(t, h.coord.Reset("alice", "world", spec(600)))
	assert.Equal(t, KindBusy, other.Kind, "a reset of another region must not share")

	flusher.release()
	require.True(t, wait(t, first).OK)
	assert.Equal(t, int32(1), flusher.calls.Load())
}

func TestResetKeepsOwnershipWhenUnloadFails(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	h.host.failUnload(errors.New("disk full"))

	res := wait(t, h.coord.Reset("alice", "world", spec(0)))
	assert.Equal(t, KindHost, res.Kind)
	assert.True(t, h.host.isLoaded("design_alice"))
	assert.True(t, h.host.Exists("design_alice"))

	id, owned := h.coord.Registry().Owned("alice")
	require.True(t, owned, "a clone still loaded keeps its owner")
	assert.Equal(t, "design_alice", id)
	st, err := h.coord.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.State)
}

func TestHostRefusingOccupiedUnload(t *testing.T) {
	// Occupants reports nobody but someone joins before the host unloads.
	joined := fmt.Errorf("unload design_alice (1 occupant(s)): %w", ErrOccupied)
	ctx := context.Background()

	t.Run("unload", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
		h.host.failUnload(joined)

		res := h.coord.Unload(ctx, "alice", true)
		assert.Equal(t, KindOccupied, res.Kind)
		_, owned := h.coord.Registry().Owned("alice")
		assert.True(t, owned)
	})

	t.Run("reset", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
		h.host.failUnload(joined)

		res := wait(t, h.coord.Reset("alice", "world", spec(0)))
		assert.Equal(t, KindOccupied, res.Kind)
		assert.True(t, h.host.Exists("design_alice"), "occupied clone must not be deleted")
	})

	t.Run("exit", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
		h.host.failUnload(joined)

		res := h.coord.Exit(ctx, "alice")
		require.True(t, res.OK, "result: %+v", res)
		assert.Equal(t, "world", res.Source)
		assert.True(t, h.host.isLoaded("design_alice"))
	})
}

func TestCreateRejectsOversizedRadius(t *testing.T) {
	h := newHarness(t, harnessOpts{maxRadius: 1024})

	res := wait(t, h.coord.EnsureReady("alice", "world", spec(1_000_000_000)))
	assert.Equal(t, KindInvalid, res.Kind)
	assert.ErrorIs(t, res.Err, ErrRadiusTooLarge)

	res = wait(t, h.coord.Reset("alice", "world", spec(-1)))
	assert.Equal(t, KindInvalid, res.Kind)

	assert.False(t, h.host.Exists("design_alice"))
	assert.Equal(t, 0, h.coord.Registry().ActiveCount())

	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(1024))).OK)
}

func TestLoadExisting(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	res := h.coord.LoadExisting(ctx, "alice")
	assert.Equal(t, KindNotFound, res.Kind)

	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	require.True(t, h.coord.Unload(ctx, "alice", false).OK)
	_, owned := h.coord.Registry().Owned("alice")
	require.False(t, owned)

	res = h.coord.LoadExisting(ctx, "alice")
	require.True(t, res.OK)
	assert.Equal(t, "world", res.Source)
	_, owned = h.coord.Registry().Owned("alice")
	assert.True(t, owned)
}

func TestUnload(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	assert.Equal(t, KindNotFound, h.coord.Unload(ctx, "alice", true).Kind)

	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	h.host.setOccupants("design_alice", 2)
	res := h.coord.Unload(ctx, "alice", true)
	assert.Equal(t, KindOccupied, res.Kind)
	assert.True(t, h.host.isLoaded("design_alice"))

	h.host.setOccupants("design_alice", 0)
	res = h.coord.Unload(ctx, "alice", true)
	require.True(t, res.OK)
	assert.Equal(t, []bool{true}, h.host.unloadCalls())
	_, owned := h.coord.Registry().Owned("alice")
	assert.False(t, owned)

	st, err := h.coord.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateUnloaded, st.State)

	assert.Equal(t, KindNotFound, h.coord.Unload(ctx, "alice", true).Kind, "already unloaded")
}

func TestExit(t *testing.T) {
	t.Run("unloads with save", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)

		res := h.coord.Exit(context.Background(), "alice")
		require.True(t, res.OK, "result: %+v", res)
		assert.Equal(t, "world", res.Source)
		assert.Equal(t, []bool{true}, h.host.unloadCalls())
	})

	t.Run("occupied clone stays loaded", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
		h.host.setOccupants("design_alice", 1)

		res := h.coord.Exit(context.Background(), "alice")
		require.True(t, res.OK)
		assert.True(t, h.host.isLoaded("design_alice"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		root := h.coord.TargetRoot("design_alice")
		require.NoError(t, os.MkdirAll(root, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "level.dat"), []byte("meta"), 0o644))

		res := h.coord.Exit(context.Background(), "alice")
		assert.Equal(t, KindMissingOriginal, res.Kind)
	})

	t.Run("origin vanished", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
		require.NoError(t, os.RemoveAll(h.source))

		res := h.coord.Exit(context.Background(), "alice")
		assert.Equal(t, KindMissingOriginal, res.Kind)
		assert.True(t, h.host.isLoaded("design_alice"))
	})

	t.Run("no clone", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		assert.Equal(t, KindNotFound, h.coord.Exit(context.Background(), "alice").Kind)
	})
}

func TestOriginFromLedgerAfterRestart(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l := ledger.New(db)

	h := newHarness(t, harnessOpts{recorder: l})
	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)

	recs, err := l.Recent(context.Background(), "design_alice", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.StatusSucceeded, recs[0].Status)
	assert.Equal(t, 8, recs[0].Tiles)
	assert.Equal(t, 8, recs[0].Copied)

	// A second coordinator over the same trees has no in-memory origin.
	fresh := New(Config{Container: h.container}, Deps{
		Host:     h.host,
		Setup:    h.setup,
		Sources:  fakeSources{"world": h.source},
		Recorder: l,
	})
	t.Cleanup(func() { _ = fresh.Shutdown(context.Background()) })

	res := fresh.Exit(context.Background(), "alice")
	require.True(t, res.OK, "result: %+v", res)
	assert.Equal(t, "world", res.Source)
}

func TestShutdownInterruptsCopiesAndUnloads(t *testing.T) {
	h := newHarness(t, harnessOpts{delay: time.Hour})

	// An hour between tiles: the copy stalls after the metadata and one tile.
	stalled := h.coord.EnsureReady("bob", "world", spec(0))
	require.Eventually(t, func() bool {
		job, ok := h.coord.Registry().InFlight("design_bob")
		return ok && job != nil && job.Completed() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Shutdown(ctx))

	res, ok := stalled.Result()
	require.True(t, ok)
	assert.Equal(t, KindInterrupted, res.Kind)

	after := wait(t, h.coord.EnsureReady("carol", "world", spec(0)))
	assert.Equal(t, KindClosed, after.Kind)
	assert.Equal(t, KindClosed, h.coord.Unload(context.Background(), "carol", true).Kind)
}

func TestShutdownSavesOwnedClones(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	require.True(t, wait(t, h.coord.EnsureReady("bob", "world", spec(0))).OK)

	require.NoError(t, h.coord.Shutdown(context.Background()))
	assert.Equal(t, []bool{true, true}, h.host.unloadCalls())
	assert.False(t, h.host.isLoaded("design_alice"))
	_, owned := h.coord.Registry().Owned("alice")
	assert.False(t, owned)
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.True(t, wait(t, h.coord.EnsureReady("alice", "world", spec(0))).OK)
	require.True(t, wait(t, h.coord.Reset("alice", "world", spec(0))).OK)

	var types []string
	for _, ev := range h.hub.Since(0, events.Filter{}) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		EventStarted, EventCompleted, EventLoaded,
		EventDeleted, EventStarted, EventCompleted, EventLoaded,
	}, types)
}

func TestProgressSinkPublishes(t *testing.T) {
	hub := events.NewHub(8)
	ProgressSink(hub).Progress("design_alice", 44)

	evs := hub.Since(0, events.Filter{})
	require.Len(t, evs, 1)
	assert.Equal(t, EventProgress, evs[0].Type)
	assert.Equal(t, "design_alice", evs[0].Identity)
	assert.JSONEq(t, `{"identity":"design_alice","percent":44}`, string(evs[0].Data))
}
