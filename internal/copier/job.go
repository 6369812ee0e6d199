package copier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/worldclone/internal/region"
)

// Kind classifies why a copy job failed.
type Kind string

const (
	KindNone            Kind = ""
	KindMissingMetadata Kind = "missing_metadata"
	KindIO              Kind = "io"
	KindInterrupted     Kind = "interrupted"
	KindFlush           Kind = "flush"
	KindChecksum        Kind = "checksum_mismatch"
)

// Result is the terminal outcome of a job.
type Result struct {
	OK      bool
	Kind    Kind
	Err     error
	Copied  int
	Skipped int
	Bytes   int64
}

// Job is one copy of a tile set from a source tree to a target tree.
// Its completion is delivered exactly once to every waiter.
type Job struct {
	Identity   string
	SourceRoot string
	TargetRoot string
	Tiles      region.Set

	total     int
	completed atomic.Int64

	// sendMu serialises progress deliveries so they never go backwards.
	sendMu   sync.Mutex
	lastSent int

	started atomic.Bool
	once    sync.Once
	done    chan struct{}
	result  Result
}

// NewJob returns a pending job. Total work is one unit per tile plus the
// metadata file.
func NewJob(identity, sourceRoot, targetRoot string, tiles region.Set) *Job {
	return &Job{
		Identity:   identity,
		SourceRoot: sourceRoot,
		TargetRoot: targetRoot,
		Tiles:      tiles,
		total:      tiles.Len() + 1,
		lastSent:   -1,
		done:       make(chan struct{}),
	}
}

// Total is the number of file operations the job performs.
func (j *Job) Total() int { return j.total }

// Completed is the number of file operations finished so far.
func (j *Job) Completed() int { return int(j.completed.Load()) }

// Percent is floor(completed*100/total).
func (j *Job) Percent() int {
	return percent(j.Completed(), j.total)
}

// Done is closed once the result is available.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (j *Job) Result() Result {
	select {
	case <-j.done:
		return j.result
	default:
		return Result{}
	}
}

// Wait blocks until the job completes or ctx ends.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Abort completes a job that was never started, e.g. when the work that
// should precede the copy failed. It is a no-op on a finished job.
func (j *Job) Abort(kind Kind, err error) {
	j.finish(Result{Kind: kind, Err: err})
}

func (j *Job) finish(r Result) bool {
	finished := false
	j.once.Do(func() {
		j.result = r
		close(j.done)
		finished = true
	})
	return finished
}

func (j *Job) isDone() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
