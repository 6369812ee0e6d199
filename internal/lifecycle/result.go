package lifecycle

import (
	"context"
	"sync"

	"github.com/mattjoyce/worldclone/internal/copier"
)

// Kind classifies a failed lifecycle operation. Copy failures keep the
// copier's kind.
type Kind string

const (
	KindNone            Kind = ""
	KindMissingMetadata      = Kind(copier.KindMissingMetadata)
	KindIO                   = Kind(copier.KindIO)
	KindInterrupted          = Kind(copier.KindInterrupted)
	KindFlush                = Kind(copier.KindFlush)
	KindChecksum             = Kind(copier.KindChecksum)

	KindHost            Kind = "host"
	KindOccupied        Kind = "occupied"
	KindNotFound        Kind = "not_found"
	KindMissingOriginal Kind = "missing_original"
	KindUnknownSource   Kind = "unknown_source"
	KindBusy            Kind = "busy"
	KindInvalid         Kind = "invalid_request"
	KindClosed          Kind = "closed"
)

// Result is the outcome of a lifecycle operation.
type Result struct {
	OK       bool
	Kind     Kind
	Message  string
	Err      error
	Identity string
	// Source is the origin world, when known.
	Source string
}

func (r Result) String() string {
	if r.OK {
		return "ok"
	}
	if r.Err != nil {
		return string(r.Kind) + ": " + r.Err.Error()
	}
	return string(r.Kind) + ": " + r.Message
}

// Future delivers one Result to any number of waiters.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(r Result) *Future {
	f := newFuture()
	f.resolve(r)
	return f
}

func (f *Future) resolve(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome and whether it is available yet.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
