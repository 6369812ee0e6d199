package lifecycle

import (
	"context"
	"errors"

	"github.com/mattjoyce/worldclone/internal/ledger"
	"github.com/mattjoyce/worldclone/internal/region"
)

//go:generate mockgen -destination=mocks/mock_host.go -package=mocks github.com/mattjoyce/worldclone/internal/lifecycle Host,Setup

var (
	// ErrNotLoaded is returned by Host.Unload for a world that is not loaded.
	ErrNotLoaded = errors.New("world not loaded")
	// ErrOccupied is returned by Host.Unload for a world someone is in.
	ErrOccupied = errors.New("world occupied")
)

// Host registers and unregisters worlds with the running environment.
// Unload must refuse with ErrOccupied, atomically with respect to joins,
// while the world has occupants.
type Host interface {
	Exists(identity string) bool
	Load(ctx context.Context, identity string) error
	Unload(ctx context.Context, identity string, persist bool) error
	Occupants(identity string) int
}

// Setup normalises a freshly loaded clone: rules, time, weather and a play
// area border sized from spec.
type Setup interface {
	Prepare(ctx context.Context, identity string, spec region.Spec) error
}

// Sources resolves a source world name to its on-disk tree.
type Sources interface {
	SourceRoot(name string) (string, error)
	SourceExists(name string) bool
}

// Recorder keeps the durable job history.
type Recorder interface {
	Begin(ctx context.Context, req ledger.BeginRequest) (string, error)
	Finish(ctx context.Context, id string, sum ledger.Summary) error
	LastSource(ctx context.Context, identity string) (string, error)
}
