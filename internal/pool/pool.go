// Package pool owns the isolated execution workers jobs run in.
//
// Every worker is validated with a handshake before it becomes Ready. Dispatch hands a job to a
// Ready worker, or queues the caller in arrival order until one frees up. A worker that times out
// or faults is never returned to the pool: it is killed and replaced by a freshly validated one, so
// stuck job code cannot permanently consume capacity.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/telemetry"
)

type handle struct {
	worker Worker
	status Status
}

// waiter receives the worker handed to a queued Dispatch; it is closed when the pool closes.
type waiter chan *handle

// Stats is a snapshot of the pool.
type Stats struct {
	Size    int `json:"size"`
	Ready   int `json:"ready"`
	Busy    int `json:"busy"`
	Waiting int `json:"waiting"`
}

// Pool is a bounded set of validated workers.
type Pool struct {
	logger           log.Logger
	ctx              context.Context
	factory          Factory
	cancel           context.CancelFunc
	handles          map[string]*handle
	idle             []*handle
	waiters          []waiter
	size             int
	handshakeTimeout time.Duration
	replacements     sync.WaitGroup
	mu               sync.Mutex
	closed           bool
}

// New creates a pool of size workers spawned by factory. Call Start before dispatching.
func New(factory Factory, size int, handshakeTimeout time.Duration, logger log.Logger) *Pool {
	if size <= 0 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		factory:          factory,
		handles:          make(map[string]*handle, size),
		size:             size,
		handshakeTimeout: handshakeTimeout,
	}
}

// Start spawns and validates every worker. It fails only when no worker at all could be validated;
// missing workers are replaced in the background.
func (pool *Pool) Start(ctx context.Context) error {
	var (
		group  errgroup.Group
		mu     sync.Mutex
		errs   = &errors.MultiError{}
		failed int
	)

	for range pool.size {
		group.Go(func() error {
			h, err := pool.spawn(ctx)
			if err != nil {
				mu.Lock()
				errs = errs.Append(err)
				failed++
				mu.Unlock()

				return nil
			}

			pool.release(h)

			return nil
		})
	}

	_ = group.Wait()

	if failed == pool.size {
		return errors.Errorf("no usable workers: %w", errs.ErrorOrNil())
	}

	if failed > 0 {
		pool.logger.Warnf("Worker pool started with %d of %d workers: %v", pool.size-failed, pool.size, errs.ErrorOrNil())
	}

	for range failed {
		pool.replaceInBackground()
	}

	pool.logger.Debugf("Worker pool started with %d workers", pool.size-failed)

	return nil
}

// Dispatch runs req on a Ready worker, waiting in FIFO order when every worker is busy.
//
// A run that exceeds timeout fails with TimeoutError after its worker has been replaced. A worker
// fault replaces the worker and retries the job once on the fresh worker; a second fault fails with
// WorkerError.
func (pool *Pool) Dispatch(ctx context.Context, req *RunRequest, timeout time.Duration) (*RunResult, error) {
	var result *RunResult

	runReq := *req
	runReq.Timeout = timeout
	req = &runReq

	attrs := map[string]any{"attempt": req.AttemptID, "job": req.JobID}

	err := telemetry.TelemeterFromContext(ctx).Collect(ctx, "pool_dispatch", attrs, func(ctx context.Context) error {
		for try := 0; ; try++ {
			h, err := pool.acquire(ctx)
			if err != nil {
				return err
			}

			res, err := pool.run(ctx, h, req, timeout)
			if err == nil {
				pool.release(h)

				result = res

				return nil
			}

			pool.replace(h)

			var timeoutErr TimeoutError
			if errors.As(err, &timeoutErr) || ctx.Err() != nil {
				return err
			}

			if try > 0 {
				return WorkerError{WorkerID: h.worker.ID(), Err: err}
			}

			pool.logger.Warnf("Worker %s failed running job %s: %v. Retrying on a new worker.", h.worker.ID(), req.JobID, err)
		}
	})

	return result, err
}

func (pool *Pool) run(ctx context.Context, h *handle, req *RunRequest, timeout time.Duration) (*RunResult, error) {
	type outcome struct {
		res *RunResult
		err error
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer errors.Recover(func(cause error) { done <- outcome{err: cause} })

		res, err := h.worker.Run(runCtx, req)
		if err == nil && res == nil {
			err = errors.Errorf("worker returned no result")
		}

		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, errors.New(ctx.Err())
		}

		return nil, TimeoutError{JobID: req.JobID, Timeout: timeout}
	}
}

func (pool *Pool) acquire(ctx context.Context) (*handle, error) {
	pool.mu.Lock()

	if pool.closed {
		pool.mu.Unlock()
		return nil, ClosedError{}
	}

	if len(pool.idle) > 0 {
		h := pool.idle[0]
		pool.idle = pool.idle[1:]
		h.status = Busy
		pool.mu.Unlock()

		return h, nil
	}

	w := make(waiter, 1)
	pool.waiters = append(pool.waiters, w)
	pool.mu.Unlock()

	select {
	case h := <-w:
		if h == nil {
			return nil, ClosedError{}
		}

		return h, nil
	case <-ctx.Done():
		pool.mu.Lock()
		removed := pool.removeWaiter(w)
		pool.mu.Unlock()

		// a worker may have been handed over before we gave up
		if !removed {
			if h := <-w; h != nil {
				pool.release(h)
			}
		}

		return nil, errors.New(ctx.Err())
	}
}

func (pool *Pool) removeWaiter(w waiter) bool {
	for i, queued := range pool.waiters {
		if queued == w {
			pool.waiters = append(pool.waiters[:i], pool.waiters[i+1:]...)
			return true
		}
	}

	return false
}

// release hands h to the longest waiting Dispatch, or marks it Ready.
func (pool *Pool) release(h *handle) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		h.status = Dead
		pool.kill(h)

		return
	}

	if len(pool.waiters) > 0 {
		w := pool.waiters[0]
		pool.waiters = pool.waiters[1:]
		h.status = Busy
		w <- h

		return
	}

	h.status = Ready
	pool.idle = append(pool.idle, h)
}

func (pool *Pool) spawn(ctx context.Context) (*handle, error) {
	worker, err := pool.factory(ctx)
	if err != nil {
		return nil, errors.Errorf("spawn worker: %w", err)
	}

	if err := Validate(ctx, worker, pool.handshakeTimeout); err != nil {
		pool.logger.Warnf("Discarding worker %s: %v", worker.ID(), err)
		pool.kill(&handle{worker: worker, status: Dead})

		return nil, err
	}

	h := &handle{worker: worker, status: Unvalidated}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		pool.kill(h)
		return nil, ClosedError{}
	}

	pool.handles[worker.ID()] = h

	return h, nil
}

// replace kills h and synchronously spawns its replacement, so pool capacity is restored before the
// failed dispatch returns. If no replacement can be validated right away, it keeps trying in the background.
func (pool *Pool) replace(h *handle) {
	pool.mu.Lock()
	h.status = Dead
	delete(pool.handles, h.worker.ID())
	closed := pool.closed
	pool.mu.Unlock()

	pool.kill(h)
	telemetry.Count(pool.ctx, "pool_worker_replaced", 1)

	if closed {
		return
	}

	fresh, err := pool.spawn(pool.ctx)
	if err != nil {
		pool.logger.Errorf("Failed to replace worker %s: %v", h.worker.ID(), err)
		pool.replaceInBackground()

		return
	}

	pool.logger.Debugf("Replaced worker %s with %s", h.worker.ID(), fresh.worker.ID())
	pool.release(fresh)
}

func (pool *Pool) replaceInBackground() {
	pool.replacements.Add(1)

	go func() {
		defer pool.replacements.Done()

		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0

		_ = backoff.Retry(func() error {
			h, err := pool.spawn(pool.ctx)
			if err != nil {
				var closedErr ClosedError
				if errors.As(err, &closedErr) {
					return backoff.Permanent(err)
				}

				return err
			}

			pool.release(h)

			return nil
		}, backoff.WithContext(policy, pool.ctx))
	}()
}

func (pool *Pool) kill(h *handle) {
	if err := h.worker.Kill(); err != nil {
		pool.logger.Debugf("Error killing worker %s: %v", h.worker.ID(), err)
	}
}

// Stats returns the current worker counts.
func (pool *Pool) Stats() Stats {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	stats := Stats{Size: pool.size, Waiting: len(pool.waiters)}

	for _, h := range pool.handles {
		switch h.status {
		case Ready:
			stats.Ready++
		case Busy:
			stats.Busy++
		}
	}

	return stats
}

// Close kills every worker and fails queued dispatches. In-flight jobs fail with a worker fault.
func (pool *Pool) Close() error {
	pool.mu.Lock()

	if pool.closed {
		pool.mu.Unlock()
		return nil
	}

	pool.closed = true
	pool.cancel()

	for _, w := range pool.waiters {
		close(w)
	}

	handles := make([]*handle, 0, len(pool.handles))
	for _, h := range pool.handles {
		h.status = Dead
		handles = append(handles, h)
	}

	pool.waiters = nil
	pool.idle = nil
	pool.handles = map[string]*handle{}
	pool.mu.Unlock()

	errs := &errors.MultiError{}

	for _, h := range handles {
		if err := h.worker.Kill(); err != nil {
			errs = errs.Append(err)
		}
	}

	pool.replacements.Wait()

	return errs.ErrorOrNil()
}
