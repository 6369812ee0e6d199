package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/worldclone/internal/config"
	"github.com/mattjoyce/worldclone/internal/copier"
	"github.com/mattjoyce/worldclone/internal/events"
	"github.com/mattjoyce/worldclone/internal/host"
	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/lifecycle"
	"github.com/mattjoyce/worldclone/internal/lock"
	"github.com/mattjoyce/worldclone/internal/state"
	"github.com/mattjoyce/worldclone/internal/storage"
)

// runtime is everything a process that mutates clones holds open: the
// single-instance lock, the state database and the lifecycle coordinator.
type runtime struct {
	cfg   *config.Config
	lock  *lock.PIDLock
	db    *sql.DB
	jobs  *ledger.Ledger
	dir   *host.Directory
	hub   *events.Hub
	coord *lifecycle.Coordinator
}

func layoutFor(cfg *config.Config) copier.Layout {
	return copier.Layout{
		MetadataFile: cfg.World.MetadataFile,
		TileDir:      cfg.World.TileDir,
		TileExt:      cfg.World.TileExt,
	}
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("acquire PID lock (another instance may be running): %w", err)
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		_ = pidLock.Release()
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}

	jobs := ledger.New(db)
	n, err := jobs.RecoverOrphans(ctx)
	if err != nil {
		_ = db.Close()
		_ = pidLock.Release()
		return nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked interrupted copy jobs abandoned", "count", n)
	}

	layout := layoutFor(cfg)
	hub := events.NewHub(256)
	dir := host.NewDirectory(host.Options{
		Container: cfg.World.Container,
		Sources:   cfg.World.Sources,
		Layout:    layout,
		Settings: host.Settings{
			TimeOfDay:             cfg.Setup.TimeOfDay,
			BorderWarningDistance: cfg.Setup.BorderWarningDistance,
			BorderWarningTime:     cfg.Setup.BorderWarningTime,
			Rules:                 cfg.Setup.Rules,
		},
		Store:  state.NewStore(db),
		Logger: logger,
	})

	pipeline := copier.New(layout,
		copier.WithFlusher(dir),
		copier.WithSink(lifecycle.ProgressSink(hub)),
		copier.WithCopyDelay(cfg.Performance.CopyDelay),
		copier.WithProgressInterval(cfg.Performance.ProgressInterval),
		copier.WithVerify(cfg.Performance.VerifyCopies),
		copier.WithLogger(logger),
	)

	coord := lifecycle.New(lifecycle.Config{
		Container: cfg.World.Container,
		TileEdge:  cfg.World.TileEdge,
		MaxRadius: cfg.World.MaxRadius,
		Naming:    lifecycle.Naming{Prefix: cfg.World.NamePrefix},
	}, lifecycle.Deps{
		Host:     dir,
		Setup:    dir,
		Sources:  dir,
		Pipeline: pipeline,
		Recorder: jobs,
		Events:   hub,
		Logger:   logger,
	})

	return &runtime{
		cfg:   cfg,
		lock:  pidLock,
		db:    db,
		jobs:  jobs,
		dir:   dir,
		hub:   hub,
		coord: coord,
	}, nil
}

// Close stops the coordinator, saving every loaded clone, then releases the
// database and the lock.
func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.coord.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := r.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}
