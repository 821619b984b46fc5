package pool

import (
	"fmt"
	"time"
)

// InvalidWorkerError is returned when a worker fails its handshake. It is fatal to that worker only.
type InvalidWorkerError struct {
	Err      error
	WorkerID string
}

func (err InvalidWorkerError) Error() string {
	return fmt.Sprintf("invalid worker %s: %v", err.WorkerID, err.Err)
}

func (err InvalidWorkerError) Unwrap() error {
	return err.Err
}

// TimeoutError is returned when a job does not finish within the dispatch timeout.
type TimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (err TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s", err.JobID, err.Timeout)
}

// WorkerError is returned when a worker fault persists after the job was retried on a fresh worker.
type WorkerError struct {
	Err      error
	WorkerID string
}

func (err WorkerError) Error() string {
	return fmt.Sprintf("worker %s failed: %v", err.WorkerID, err.Err)
}

func (err WorkerError) Unwrap() error {
	return err.Err
}

// ClosedError is returned by Dispatch once the pool is closed.
type ClosedError struct{}

func (err ClosedError) Error() string {
	return "worker pool is closed"
}
