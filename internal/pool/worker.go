package pool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/River-unknown/kit/internal/protocol"
)

// Status is the lifecycle state of a pooled worker.
type Status int

const (
	Unvalidated Status = iota
	Ready
	Busy
	Dead
)

func (status Status) String() string {
	switch status {
	case Unvalidated:
		return "unvalidated"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Dead:
		return "dead"
	}

	return "unknown"
}

// Worker is one isolated execution context. A worker runs a single job at a time.
type Worker interface {
	ID() string
	// Handshake is a no-op call proving the worker is live and loaded the runtime.
	Handshake(ctx context.Context) error
	// Run executes a compiled job. A job that throws is reported through RunResult.Error;
	// a non-nil error means the worker itself failed.
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)
	// Kill tears the worker down. It is safe to call more than once.
	Kill() error
}

// Factory spawns a new, not yet validated worker.
type Factory func(ctx context.Context) (Worker, error)

// RunRequest is a compiled job and its execution context.
type RunRequest struct {
	AttemptID string
	JobID     string
	RunID     string
	// Source is the compiled job module.
	Source string
	// State is the initial state of the job, the output of the previous job or the attempt dataclip.
	State json.RawMessage
	// Credential becomes state.configuration when set.
	Credential json.RawMessage
	// Modules maps adaptor specifiers imported by Source to their installed paths.
	Modules map[string]string
	// Timeout is the dispatch timeout, set by the pool so the runtime can stop the job itself.
	Timeout time.Duration
}

// LogLine is one line the job logged while running.
type LogLine struct {
	Level     string
	Message   []string
	Timestamp int64
}

// RunResult is the outcome of a job that ran to completion or threw.
type RunResult struct {
	// State is the final state of the job. When the job threw it carries state.errors[jobId].
	State json.RawMessage
	Error *protocol.ErrorReport
	Logs  []LogLine
}
