package ledger

import (
	"errors"
	"time"

	"github.com/mattjoyce/worldclone/internal/region"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusAbandoned marks a job that was running when the process died.
	StatusAbandoned Status = "abandoned"
)

// Reason records why a copy was started.
type Reason string

const (
	ReasonCreate Reason = "create"
	ReasonReset  Reason = "reset"
)

// Record is one row of clone_jobs.
type Record struct {
	ID          string
	Identity    string
	Owner       string
	Source      string
	Reason      Reason
	Spec        region.Spec
	Tiles       int
	Status      Status
	FailureKind *string
	LastError   *string
	Copied      int
	Skipped     int
	Bytes       int64
	StartedAt   time.Time
	CompletedAt *time.Time
}

type BeginRequest struct {
	Identity string
	Owner    string
	Source   string
	Reason   Reason
	Spec     region.Spec
	Tiles    int
}

// Summary is the terminal state written by Finish.
type Summary struct {
	Status      Status
	FailureKind string
	Error       string
	Copied      int
	Skipped     int
	Bytes       int64
}

var ErrJobNotFound = errors.New("job not found")
