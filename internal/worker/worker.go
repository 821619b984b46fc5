// Package worker bounds how many attempts a kit process executes at the same time.
//
// The Pool hands out a fixed number of slots through a semaphore. The claim loop asks the pool how
// many slots are free before claiming, so it never takes more attempts from the queue than it can
// start right away, and shutdown waits for every submitted attempt to finish.
package worker

import (
	"sync"
	"sync/atomic"

	"github.com/River-unknown/kit/internal/errors"
)

// Task is one unit of work, e.g. the execution of a claimed attempt.
type Task func() error

// Pool runs submitted tasks with at most maxWorkers of them in flight.
type Pool struct {
	semaphore   chan struct{}
	allErrors   *errors.MultiError
	wg          sync.WaitGroup
	maxWorkers  int
	active      atomic.Int64
	allErrorsMu sync.Mutex
	isStopping  atomic.Bool
}

// NewWorkerPool creates a pool running at most maxWorkers tasks concurrently.
func NewWorkerPool(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	return &Pool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
		allErrors:  &errors.MultiError{},
	}
}

func (wp *Pool) appendError(err error) {
	if err == nil {
		return
	}

	wp.allErrorsMu.Lock()
	wp.allErrors = wp.allErrors.Append(err)
	wp.allErrorsMu.Unlock()
}

// Submit schedules task. It returns false once the pool is stopping.
//
// A submitted task counts as active right away, even while it still waits for a slot, so
// Available never promises a slot that is already spoken for.
func (wp *Pool) Submit(task Task) bool {
	if wp.isStopping.Load() {
		return false
	}

	wp.wg.Add(1)
	wp.active.Add(1)

	go func() {
		defer wp.wg.Done()
		defer wp.active.Add(-1)

		wp.semaphore <- struct{}{}

		defer func() { <-wp.semaphore }()

		var err error

		func() {
			defer errors.Recover(func(cause error) { err = cause })

			err = task()
		}()

		wp.appendError(err)
	}()

	return true
}

// Capacity is the maximum number of concurrent tasks.
func (wp *Pool) Capacity() int {
	return wp.maxWorkers
}

// Active is the number of submitted tasks that have not finished yet.
func (wp *Pool) Active() int {
	return int(wp.active.Load())
}

// Available is the number of tasks that can be submitted without waiting for a slot.
func (wp *Pool) Available() int {
	return max(wp.maxWorkers-wp.Active(), 0)
}

// Wait blocks until all submitted tasks are completed and returns their errors.
func (wp *Pool) Wait() error {
	wp.wg.Wait()

	wp.allErrorsMu.Lock()
	defer wp.allErrorsMu.Unlock()

	return wp.allErrors.ErrorOrNil()
}

// GracefulStop rejects new tasks and waits for the submitted ones to complete.
func (wp *Pool) GracefulStop() error {
	wp.isStopping.Store(true)

	return wp.Wait()
}

// IsStopping returns whether the pool rejects new tasks.
func (wp *Pool) IsStopping() bool {
	return wp.isStopping.Load()
}
