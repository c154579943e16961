package queue

import (
	"context"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/build"
)

// Source identifies the entry point that submitted a build.
type Source string

const (
	SourceJSON  Source = "json"  // POST /compile
	SourceZip   Source = "zip"   // POST /compile-zip
	SourceDelta Source = "delta" // POST /compile-delta
	SourceCLI   Source = "cli"   // texbuilder compile
)

// Status represents the current status of a build job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Spec describes a build before it is queued.
type Spec struct {
	ProjectID string // empty for stateless builds
	Engine    string
	Mode      string
	Source    Source
}

// Job is a snapshot of a build job. Snapshots are copies; mutating them has no effect.
type Job struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id,omitempty"`
	Engine      string        `json:"engine,omitempty"`
	Mode        string        `json:"mode,omitempty"`
	Source      Source        `json:"source"`
	Status      Status        `json:"status"`
	Worker      string        `json:"worker,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Passes      int           `json:"passes,omitempty"`
	Code        string        `json:"code,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Task runs one build on a worker. buildID is the job ID and should be used as the
// build ID of the produced Result.
type Task func(ctx context.Context, buildID string) (*build.Result, error)

// entry is the pool-internal job state.
type entry struct {
	Job

	task   Task
	caller context.Context
	done   chan struct{}
	cancel context.CancelFunc
	result *build.Result
	err    error
}

func (e *entry) snapshot() Job {
	j := e.Job
	if e.StartedAt != nil {
		t := *e.StartedAt
		j.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		j.CompletedAt = &t
	}
	return j
}
