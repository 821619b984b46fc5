package pool_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/internal/protocol"
	"github.com/River-unknown/kit/pkg/log"
)

type runFunc func(ctx context.Context, worker *fakeWorker, req *pool.RunRequest) (*pool.RunResult, error)

type fakeWorker struct {
	handshake func(ctx context.Context) error
	run       runFunc
	id        string
	runs      atomic.Int32
	killed    atomic.Bool
}

func (w *fakeWorker) ID() string { return w.id }

func (w *fakeWorker) Handshake(ctx context.Context) error {
	if w.handshake != nil {
		return w.handshake(ctx)
	}

	return nil
}

func (w *fakeWorker) Run(ctx context.Context, req *pool.RunRequest) (*pool.RunResult, error) {
	w.runs.Add(1)
	return w.run(ctx, w, req)
}

func (w *fakeWorker) Kill() error {
	w.killed.Store(true)
	return nil
}

type fakeFactory struct {
	handshake func(ctx context.Context) error
	run       runFunc
	workers   []*fakeWorker
	mu        sync.Mutex
}

func (f *fakeFactory) spawn(context.Context) (pool.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	worker := &fakeWorker{id: fmt.Sprintf("worker-%d", len(f.workers)+1), run: f.run, handshake: f.handshake}
	f.workers = append(f.workers, worker)

	return worker, nil
}

func (f *fakeFactory) spawned() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeWorker{}, f.workers...)
}

func echo(_ context.Context, _ *fakeWorker, req *pool.RunRequest) (*pool.RunResult, error) {
	return &pool.RunResult{State: req.State}, nil
}

func startPool(t *testing.T, factory *fakeFactory, size int) *pool.Pool {
	t.Helper()

	p := pool.New(factory.spawn, size, 100*time.Millisecond, log.Discard())
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(func() { p.Close() })

	return p
}

func request(jobID string) *pool.RunRequest {
	return &pool.RunRequest{AttemptID: "attempt-1", JobID: jobID, State: json.RawMessage(`{"x":1}`)}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := &fakeWorker{id: "ok"}
	require.NoError(t, pool.Validate(t.Context(), ok, 50*time.Millisecond))

	rejected := &fakeWorker{id: "rejected", handshake: func(context.Context) error { return errors.New("no handshake function") }}
	err := pool.Validate(t.Context(), rejected, 50*time.Millisecond)

	var invalid pool.InvalidWorkerError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "rejected", invalid.WorkerID)

	hanging := &fakeWorker{id: "hanging", handshake: func(context.Context) error {
		time.Sleep(time.Second)
		return nil
	}}

	start := time.Now()
	err = pool.Validate(t.Context(), hanging, 50*time.Millisecond)
	require.ErrorAs(t, err, &invalid)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestStartFailsWithoutUsableWorkers(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{run: echo, handshake: func(context.Context) error { return errors.New("bad worker path") }}

	p := pool.New(factory.spawn, 2, 50*time.Millisecond, log.Discard())
	defer p.Close()

	err := p.Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable workers")

	for _, worker := range factory.spawned() {
		assert.True(t, worker.killed.Load())
	}
}

func TestDispatchReturnsWorkerToReady(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{run: echo}
	p := startPool(t, factory, 2)

	res, err := p.Dispatch(t.Context(), request("job-1"), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(res.State))

	assert.Equal(t, pool.Stats{Size: 2, Ready: 2}, p.Stats())
	assert.Len(t, factory.spawned(), 2)
}

func TestJobErrorIsNotAWorkerFault(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{run: func(context.Context, *fakeWorker, *pool.RunRequest) (*pool.RunResult, error) {
		return &pool.RunResult{Error: &protocol.ErrorReport{Name: "TypeError", Message: "x is not a function"}}, nil
	}}
	p := startPool(t, factory, 1)

	res, err := p.Dispatch(t.Context(), request("job-1"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "TypeError", res.Error.Name)
	assert.Len(t, factory.spawned(), 1)
	assert.Equal(t, 1, p.Stats().Ready)
}

func TestDispatchTimeoutReplacesWorker(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{run: func(ctx context.Context, _ *fakeWorker, req *pool.RunRequest) (*pool.RunResult, error) {
		if req.JobID == "stuck" {
			// ignores cancellation like a runaway job would
			time.Sleep(2 * time.Second)
		}

		return &pool.RunResult{}, nil
	}}
	p := startPool(t, factory, 2)

	before := p.Stats().Ready

	_, err := p.Dispatch(t.Context(), request("stuck"), 50*time.Millisecond)

	var timeoutErr pool.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "stuck", timeoutErr.JobID)

	assert.Equal(t, before, p.Stats().Ready)

	workers := factory.spawned()
	require.Len(t, workers, 3)
	assert.True(t, workers[0].killed.Load() || workers[1].killed.Load())
	assert.False(t, workers[2].killed.Load())

	// the pool keeps serving
	_, err = p.Dispatch(t.Context(), request("next"), time.Second)
	require.NoError(t, err)
}

func TestWorkerFaultIsRetriedOnce(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{run: func(_ context.Context, worker *fakeWorker, req *pool.RunRequest) (*pool.RunResult, error) {
		if worker.ID() == "worker-1" {
			return nil, errors.New("unexpected disconnect")
		}

		return &pool.RunResult{State: req.State}, nil
	}}
	p := startPool(t, factory, 1)

	res, err := p.Dispatch(t.Context(), request("job-1"), time.Second)
	require.NoError(t, err)
	assert.NotNil(t, res)

	workers := factory.spawned()
	require.Len(t, workers, 2)
	assert.True(t, workers[0].killed.Load())
	assert.Equal(t, 1, p.Stats().Ready)
}

func TestPersistentWorkerFault(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{run: func(context.Context, *fakeWorker, *pool.RunRequest) (*pool.RunResult, error) {
		return nil, errors.New("crashed")
	}}
	p := startPool(t, factory, 1)

	_, err := p.Dispatch(t.Context(), request("job-1"), time.Second)

	var workerErr pool.WorkerError
	require.ErrorAs(t, err, &workerErr)
	assert.Len(t, factory.spawned(), 3)
	assert.Equal(t, 1, p.Stats().Ready)
}

func TestDispatchQueuesInArrivalOrder(t *testing.T) {
	t.Parallel()

	var (
		gate  = make(chan struct{})
		order = make(chan string, 4)
	)

	factory := &fakeFactory{run: func(_ context.Context, _ *fakeWorker, req *pool.RunRequest) (*pool.RunResult, error) {
		order <- req.JobID

		if req.JobID == "first" {
			<-gate
		}

		return &pool.RunResult{}, nil
	}}
	p := startPool(t, factory, 1)

	var wg sync.WaitGroup

	dispatch := func(jobID string) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.Dispatch(t.Context(), request(jobID), 5*time.Second)
			assert.NoError(t, err)
		}()
	}

	dispatch("first")
	require.Equal(t, "first", <-order)

	for i, jobID := range []string{"second", "third", "fourth"} {
		dispatch(jobID)
		require.Eventually(t, func() bool { return p.Stats().Waiting == i+1 }, 5*time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()

	assert.Equal(t, "second", <-order)
	assert.Equal(t, "third", <-order)
	assert.Equal(t, "fourth", <-order)
}

func TestDispatchIsConcurrentUpToCapacity(t *testing.T) {
	t.Parallel()

	var (
		running atomic.Int32
		peak    atomic.Int32
		release = make(chan struct{})
	)

	factory := &fakeFactory{run: func(context.Context, *fakeWorker, *pool.RunRequest) (*pool.RunResult, error) {
		n := running.Add(1)
		defer running.Add(-1)

		for {
			current := peak.Load()
			if n <= current || peak.CompareAndSwap(current, n) {
				break
			}
		}

		<-release

		return &pool.RunResult{}, nil
	}}
	p := startPool(t, factory, 2)

	var wg sync.WaitGroup

	for i := range 3 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.Dispatch(t.Context(), request(fmt.Sprintf("job-%d", i)), 5*time.Second)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return running.Load() == 2 && p.Stats().Waiting == 1 }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
}

func TestCloseFailsQueuedDispatch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	factory := &fakeFactory{run: func(context.Context, *fakeWorker, *pool.RunRequest) (*pool.RunResult, error) {
		<-release
		return &pool.RunResult{}, nil
	}}

	p := pool.New(factory.spawn, 1, 100*time.Millisecond, log.Discard())
	require.NoError(t, p.Start(t.Context()))

	go p.Dispatch(t.Context(), request("busy"), 5*time.Second) //nolint:errcheck

	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, 5*time.Second, time.Millisecond)

	errCh := make(chan error, 1)

	go func() {
		_, err := p.Dispatch(t.Context(), request("queued"), 5*time.Second)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, p.Close())

	err := <-errCh
	assert.ErrorAs(t, err, &pool.ClosedError{})
}

func TestDispatchHonoursCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	factory := &fakeFactory{run: func(context.Context, *fakeWorker, *pool.RunRequest) (*pool.RunResult, error) {
		<-release
		return &pool.RunResult{}, nil
	}}
	p := startPool(t, factory, 1)

	go p.Dispatch(t.Context(), request("busy"), 5*time.Second) //nolint:errcheck

	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Dispatch(ctx, request("queued"), 5*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.Stats().Waiting)
}
