// Package lifecycle owns the life of every clone: copying it from a source
// world, loading and unloading it on the host, resetting and exiting. At
// most one copy runs per clone identity; concurrent requests for the same
// clone share the outcome of the one in progress.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/region"
)

// Config holds the coordinator's static settings.
type Config struct {
	// Container is the directory holding one tree per clone identity.
	Container string
	TileEdge  int
	// MaxRadius bounds the radius of a copy; zero means unbounded.
	MaxRadius int
	Naming    Naming
}

// Deps are the coordinator's collaborators. Recorder and Events are
// optional.
type Deps struct {
	Host     Host
	Setup    Setup
	Sources  Sources
	Pipeline *copier.Pipeline
	Recorder Recorder
	Events   *events.Hub
	Logger   *slog.Logger
}

type Coordinator struct {
	cfg      Config
	host     Host
	setup    Setup
	sources  Sources
	pipeline *copier.Pipeline
	recorder Recorder
	events   *events.Hub
	logger   *slog.Logger

	reg *Registry

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, deps Deps) *Coordinator {
	if cfg.TileEdge <= 0 {
		cfg.TileEdge = region.DefaultTileEdge
	}
	if deps.Events == nil {
		deps.Events = events.NewHub(128)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Pipeline == nil {
		deps.Pipeline = copier.New(copier.DefaultLayout())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		host:     deps.Host,
		setup:    deps.Setup,
		sources:  deps.Sources,
		pipeline: deps.Pipeline,
		recorder: deps.Recorder,
		events:   deps.Events,
		logger:   deps.Logger.With("component", "lifecycle"),
		reg:      NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Coordinator) Registry() *Registry { return c.reg }

func (c *Coordinator) Naming() Naming { return c.cfg.Naming }

// TargetRoot is the on-disk tree of identity.
func (c *Coordinator) TargetRoot(identity string) string {
	return filepath.Join(c.cfg.Container, identity)
}

// EnsureReady makes owner's clone of source available. An existing clone
// is loaded; otherwise the tiles around spec are copied and the new clone is
// loaded and prepared. It never blocks; the returned Future resolves once.
// A request arriving while the clone is already being created shares that
// creation.
func (c *Coordinator) EnsureReady(owner, source string, spec region.Spec) *Future {
	return c.startCreate(owner, source, spec, opEnsure)
}

// Reset discards owner's clone without saving it and copies a fresh one.
// A reset of the same region already running is shared; any other
// transition in progress makes it busy.
func (c *Coordinator) Reset(owner, source string, spec region.Spec) *Future {
	return c.startCreate(owner, source, spec, opReset)
}

func (c *Coordinator) startCreate(owner, source string, spec region.Spec, o op) *Future {
	if err := ValidateOwner(owner); err != nil {
		return resolvedFuture(Result{Kind: KindInvalid, Err: err, Message: err.Error()})
	}
	identity := c.cfg.Naming.Identity(owner)
	if err := c.checkSpec(spec); err != nil {
		return resolvedFuture(Result{Kind: KindInvalid, Err: err, Identity: identity, Message: err.Error()})
	}

	f, fresh := c.reg.claim(identity, owner, source, o, spec)
	switch {
	case f == nil:
		return resolvedFuture(c.closedResult(identity))
	case !fresh && f.shares(o, source, spec):
		c.logger.Debug("attaching to in-flight creation", "identity", identity, "op", o, "active_op", f.op)
		return f.future
	case !fresh:
		return resolvedFuture(busyResult(identity, f.op))
	}

	go func() {
		var res Result
		if o == opReset {
			res = c.runReset(c.ctx, f, spec)
		} else {
			res = c.runEnsure(c.ctx, f, spec)
		}
		c.finish(f, res)
	}()
	return f.future
}

// ErrRadiusTooLarge rejects a copy wider than Config.MaxRadius.
var ErrRadiusTooLarge = errors.New("radius too large")

func (c *Coordinator) checkSpec(spec region.Spec) error {
	if spec.Radius < 0 {
		return fmt.Errorf("radius must not be negative (got %d)", spec.Radius)
	}
	if c.cfg.MaxRadius > 0 && spec.Radius > c.cfg.MaxRadius {
		return fmt.Errorf("%w: %d exceeds %d", ErrRadiusTooLarge, spec.Radius, c.cfg.MaxRadius)
	}
	return nil
}

func (c *Coordinator) runEnsure(ctx context.Context, f *flight, spec region.Spec) Result {
	if c.host.Exists(f.identity) {
		return c.load(ctx, f)
	}
	return c.create(ctx, f, spec, ledger.ReasonCreate)
}

func (c *Coordinator) runReset(ctx context.Context, f *flight, spec region.Spec) Result {
	logger := c.logger.With("identity", f.identity, "owner", f.owner)

	if n := c.host.Occupants(f.identity); n > 0 {
		return Result{
			Kind:     KindOccupied,
			Identity: f.identity,
			Message:  fmt.Sprintf("clone has %d occupant(s)", n),
		}
	}
	if err := c.host.Unload(ctx, f.identity, false); err != nil && !errors.Is(err, ErrNotLoaded) {
		if errors.Is(err, ErrOccupied) {
			return Result{Kind: KindOccupied, Err: err, Identity: f.identity, Message: "clone has occupants"}
		}
		logger.Error("unload before reset failed", "error", err)
		return Result{Kind: KindHost, Err: err, Identity: f.identity, Message: "could not unload clone"}
	}
	c.reg.disown(f.owner)

	root := c.TargetRoot(f.identity)
	if err := os.RemoveAll(root); err != nil {
		logger.Error("delete clone tree failed", "path", root, "error", err)
		return Result{Kind: KindIO, Err: fmt.Errorf("delete %q: %w", root, err), Identity: f.identity, Message: "could not delete clone"}
	}
	c.reg.forget(f.identity)
	logger.Info("clone tree deleted", "path", root)
	c.events.Publish(EventDeleted, map[string]any{"identity": f.identity, "owner": f.owner})

	return c.create(ctx, f, spec, ledger.ReasonReset)
}

// load registers an existing clone tree with the host.
func (c *Coordinator) load(ctx context.Context, f *flight) Result {
	if err := c.host.Load(ctx, f.identity); err != nil {
		c.logger.Error("load clone failed", "identity", f.identity, "error", err)
		return Result{Kind: KindHost, Err: err, Identity: f.identity, Message: "could not load clone"}
	}
	c.logger.Info("clone loaded", "identity", f.identity, "owner", f.owner)
	c.events.Publish(EventLoaded, map[string]any{"identity": f.identity, "owner": f.owner})

	res := Result{OK: true, Identity: f.identity, Message: "clone loaded"}
	if src, ok := c.origin(ctx, f.identity); ok {
		res.Source = src
		f.source = src
	} else {
		f.source = ""
	}
	return res
}

// create copies a fresh clone, then loads and prepares it.
func (c *Coordinator) create(ctx context.Context, f *flight, spec region.Spec, reason ledger.Reason) Result {
	logger := c.logger.With("identity", f.identity, "owner", f.owner, "source", f.source)

	srcRoot, err := c.sources.SourceRoot(f.source)
	if err != nil {
		logger.Warn("unknown source world", "error", err)
		return Result{Kind: KindUnknownSource, Err: err, Identity: f.identity, Message: fmt.Sprintf("source world %q not found", f.source)}
	}

	tiles := spec.Tiles(c.cfg.TileEdge)
	job := copier.NewJob(f.identity, srcRoot, c.TargetRoot(f.identity), tiles)
	c.reg.setJob(f, job)

	jobID := c.begin(ctx, f, spec, tiles.Len(), reason)
	logger.Info("clone copy started", "tiles", tiles.Len(), "radius", spec.Radius, "reason", reason)
	c.events.Publish(EventStarted, map[string]any{
		"identity": f.identity,
		"owner":    f.owner,
		"source":   f.source,
		"reason":   reason,
		"tiles":    tiles.Len(),
		"radius":   spec.Radius,
	})

	c.pipeline.Start(ctx, job)
	<-job.Done()
	cres := job.Result()

	c.record(jobID, cres)
	c.events.Publish(EventCompleted, map[string]any{
		"identity": f.identity,
		"owner":    f.owner,
		"ok":       cres.OK,
		"kind":     cres.Kind,
		"copied":   cres.Copied,
		"skipped":  cres.Skipped,
		"bytes":    cres.Bytes,
	})
	if !cres.OK {
		return Result{Kind: Kind(cres.Kind), Err: cres.Err, Identity: f.identity, Source: f.source, Message: "world copy failed"}
	}

	// Host-side work runs after the copy finished and before ownership is
	// recorded, so attached waiters see the final state.
	if err := c.host.Load(ctx, f.identity); err != nil {
		logger.Error("load new clone failed", "error", err)
		return Result{Kind: KindHost, Err: err, Identity: f.identity, Source: f.source, Message: "could not load clone"}
	}
	if err := c.setup.Prepare(ctx, f.identity, spec); err != nil {
		logger.Error("prepare new clone failed", "error", err)
		if uerr := c.host.Unload(ctx, f.identity, false); uerr != nil && !errors.Is(uerr, ErrNotLoaded) {
			logger.Warn("unload after failed prepare", "error", uerr)
		}
		return Result{Kind: KindHost, Err: err, Identity: f.identity, Source: f.source, Message: "could not prepare clone"}
	}
	c.events.Publish(EventLoaded, map[string]any{"identity": f.identity, "owner": f.owner})

	return Result{OK: true, Identity: f.identity, Source: f.source, Message: "clone ready"}
}

func (c *Coordinator) begin(ctx context.Context, f *flight, spec region.Spec, tiles int, reason ledger.Reason) string {
	if c.recorder == nil {
		return ""
	}
	id, err := c.recorder.Begin(ctx, ledger.BeginRequest{
		Identity: f.identity,
		Owner:    f.owner,
		Source:   f.source,
		Reason:   reason,
		Spec:     spec,
		Tiles:    tiles,
	})
	if err != nil {
		c.logger.Warn("record job start failed", "identity", f.identity, "error", err)
		return ""
	}
	return id
}

func (c *Coordinator) record(jobID string, res copier.Result) {
	if c.recorder == nil || jobID == "" {
		return
	}
	sum := ledger.Summary{
		Status:  ledger.StatusSucceeded,
		Copied:  res.Copied,
		Skipped: res.Skipped,
		Bytes:   res.Bytes,
	}
	if !res.OK {
		sum.Status = ledger.StatusFailed
		sum.FailureKind = string(res.Kind)
		if res.Err != nil {
			sum.Error = res.Err.Error()
		}
	}
	// The job row must be closed even when the copy was interrupted by
	// shutdown.
	if err := c.recorder.Finish(context.WithoutCancel(c.ctx), jobID, sum); err != nil {
		c.logger.Warn("record job finish failed", "job_id", jobID, "error", err)
	}
}

// finish retires f and publishes res to every waiter.
func (c *Coordinator) finish(f *flight, res Result) {
	owned := res.OK && f.op != opUnload && f.op != opExit
	c.reg.land(f, owned)
	f.future.resolve(res)
}

// LoadExisting loads owner's clone if its tree exists. A failure has no
// side effects.
func (c *Coordinator) LoadExisting(ctx context.Context, owner string) Result {
	return c.runSync(owner, opLoad, func(f *flight) Result {
		if !c.host.Exists(f.identity) {
			return Result{Kind: KindNotFound, Identity: f.identity, Message: "no clone to load"}
		}
		return c.load(ctx, f)
	})
}

// Unload unregisters owner's clone, saving it when persist is set. It
// refuses while the clone has occupants.
func (c *Coordinator) Unload(ctx context.Context, owner string, persist bool) Result {
	return c.runSync(owner, opUnload, func(f *flight) Result {
		return c.unload(ctx, f, persist)
	})
}

func (c *Coordinator) unload(ctx context.Context, f *flight, persist bool) Result {
	if !c.host.Exists(f.identity) {
		return Result{Kind: KindNotFound, Identity: f.identity, Message: "no clone to unload"}
	}
	if n := c.host.Occupants(f.identity); n > 0 {
		return Result{Kind: KindOccupied, Identity: f.identity, Message: fmt.Sprintf("clone has %d occupant(s)", n)}
	}
	if err := c.host.Unload(ctx, f.identity, persist); err != nil {
		if errors.Is(err, ErrNotLoaded) {
			c.reg.disown(f.owner)
			return Result{Kind: KindNotFound, Err: err, Identity: f.identity, Message: "clone is not loaded"}
		}
		if errors.Is(err, ErrOccupied) {
			return Result{Kind: KindOccupied, Err: err, Identity: f.identity, Message: "clone has occupants"}
		}
		c.logger.Error("unload clone failed", "identity", f.identity, "error", err)
		return Result{Kind: KindHost, Err: err, Identity: f.identity, Message: "could not unload clone"}
	}
	c.reg.disown(f.owner)
	c.logger.Info("clone unloaded", "identity", f.identity, "owner", f.owner, "persist", persist)
	c.events.Publish(EventUnloaded, map[string]any{"identity": f.identity, "owner": f.owner, "persist": persist})
	return Result{OK: true, Identity: f.identity, Message: "clone unloaded"}
}

// Exit resolves the world owner's clone was copied from and unloads the
// clone, saving it, once nobody is left inside. An occupied clone stays
// loaded and Exit still succeeds.
func (c *Coordinator) Exit(ctx context.Context, owner string) Result {
	return c.runSync(owner, opExit, func(f *flight) Result {
		if !c.host.Exists(f.identity) {
			return Result{Kind: KindNotFound, Identity: f.identity, Message: "no clone to exit"}
		}
		src, ok := c.origin(ctx, f.identity)
		if !ok || !c.sources.SourceExists(src) {
			c.logger.Warn("origin world missing", "identity", f.identity, "source", src)
			return Result{Kind: KindMissingOriginal, Identity: f.identity, Source: src, Message: "original world not found"}
		}

		if c.host.Occupants(f.identity) > 0 {
			return Result{OK: true, Identity: f.identity, Source: src, Message: "clone still occupied; left loaded"}
		}
		res := c.unload(ctx, f, true)
		res.Source = src
		switch res.Kind {
		case KindNotFound:
			// Nothing loaded is as good as unloaded.
			return Result{OK: true, Identity: f.identity, Source: src, Message: "clone not loaded"}
		case KindOccupied:
			return Result{OK: true, Identity: f.identity, Source: src, Message: "clone still occupied; left loaded"}
		}
		return res
	})
}

// runSync claims a flight for owner's clone, runs fn on the calling
// goroutine and retires the flight.
func (c *Coordinator) runSync(owner string, o op, fn func(f *flight) Result) Result {
	if err := ValidateOwner(owner); err != nil {
		return Result{Kind: KindInvalid, Err: err, Message: err.Error()}
	}
	identity := c.cfg.Naming.Identity(owner)

	f, fresh := c.reg.claim(identity, owner, "", o, region.Spec{})
	if f == nil {
		return c.closedResult(identity)
	}
	if !fresh {
		return busyResult(identity, f.op)
	}
	res := fn(f)
	c.finish(f, res)
	return res
}

// origin returns the source identity was copied from, from memory or the
// job history.
func (c *Coordinator) origin(ctx context.Context, identity string) (string, bool) {
	if src, ok := c.reg.Origin(identity); ok {
		return src, true
	}
	if c.recorder == nil {
		return "", false
	}
	src, err := c.recorder.LastSource(ctx, identity)
	if err != nil {
		if !errors.Is(err, ledger.ErrJobNotFound) {
			c.logger.Warn("look up clone origin failed", "identity", identity, "error", err)
		}
		return "", false
	}
	c.reg.setOrigin(identity, src)
	return src, true
}

// State is where a clone is in its life.
type State string

const (
	StateAbsent   State = "absent"
	StateCopying  State = "copying"
	StateReady    State = "ready"
	StateUnloaded State = "unloaded"
)

type Status struct {
	Owner    string `json:"owner"`
	Identity string `json:"identity"`
	State    State  `json:"state"`
	// Progress is the copy percentage while copying.
	Progress  int    `json:"progress"`
	Source    string `json:"source,omitempty"`
	Occupants int    `json:"occupants"`
}

func (c *Coordinator) Status(ctx context.Context, owner string) (Status, error) {
	if err := ValidateOwner(owner); err != nil {
		return Status{}, err
	}
	identity := c.cfg.Naming.Identity(owner)
	st := Status{Owner: owner, Identity: identity, State: StateAbsent}

	if job, ok := c.reg.InFlight(identity); ok {
		st.State = StateCopying
		if job != nil {
			st.Progress = job.Percent()
		}
	} else if _, ok := c.reg.Owned(owner); ok {
		st.State = StateReady
		st.Progress = 100
	} else if c.host.Exists(identity) {
		st.State = StateUnloaded
		st.Progress = 100
	}
	if st.State != StateAbsent {
		st.Occupants = c.host.Occupants(identity)
		if src, ok := c.origin(ctx, identity); ok {
			st.Source = src
		}
	}
	return st, nil
}

// Shutdown interrupts running copies, waits for every transition to
// settle, then unloads every owned clone with a save. The coordinator
// accepts no work afterwards.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	pending := c.reg.close()
	c.cancel()

	for _, f := range pending {
		if _, err := f.Wait(ctx); err != nil {
			return fmt.Errorf("wait for in-flight clones: %w", err)
		}
	}

	var errs []error
	for _, id := range c.reg.drain() {
		err := c.host.Unload(ctx, id, true)
		if errors.Is(err, ErrOccupied) {
			c.logger.Warn("clone occupied at shutdown; left loaded", "identity", id)
			continue
		}
		if err != nil && !errors.Is(err, ErrNotLoaded) {
			c.logger.Error("unload on shutdown failed", "identity", id, "error", err)
			errs = append(errs, fmt.Errorf("unload %s: %w", id, err))
			continue
		}
		c.events.Publish(EventUnloaded, map[string]any{"identity": id, "persist": true})
	}
	c.logger.Info("lifecycle coordinator stopped", "interrupted", len(pending))
	return errors.Join(errs...)
}

func (c *Coordinator) closedResult(identity string) Result {
	return Result{Kind: KindClosed, Identity: identity, Message: "shutting down"}
}

func busyResult(identity string, active op) Result {
	return Result{Kind: KindBusy, Identity: identity, Message: fmt.Sprintf("clone is busy (%s in progress)", active)}
}
