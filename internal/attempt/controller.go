// Package attempt drives claimed attempts from the queue server through adaptor resolution,
// compilation and execution, and reports every lifecycle transition back over the protocol.
//
// Each attempt is executed by a single goroutine walking the state machine
// Claimed, Resolving, Compiling, Running and then Completed, Failed or TimedOut. Jobs run one at a
// time in declaration order, the output state of a job becoming the input state of the next. The
// terminal attempt-complete event is sent exactly once per attempt, also when the attempt panics or
// the queue server aborts it.
package attempt

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/River-unknown/kit/internal/autoinstall"
	"github.com/River-unknown/kit/internal/compiler"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/internal/protocol"
	"github.com/River-unknown/kit/internal/worker"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/telemetry"
)

const (
	DefaultCapacity        = 5
	DefaultDispatchTimeout = 5 * time.Minute
	DefaultClaimInterval   = 10 * time.Second
	DefaultReportTimeout   = 30 * time.Second
)

// Resolver installs the adaptors of an attempt.
type Resolver interface {
	Resolve(ctx context.Context, specs []autoinstall.Specifier) (map[string]autoinstall.Module, error)
}

// Compiler injects adaptor imports into a job script.
type Compiler interface {
	Compile(ctx context.Context, jobID, source string, adaptor compiler.Adaptor) (string, error)
}

// ManifestLoader describes the exports of an installed adaptor.
type ManifestLoader interface {
	Load(ctx context.Context, specifier, dir string) (compiler.Adaptor, error)
}

// Dispatcher runs a compiled job on an execution worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *pool.RunRequest, timeout time.Duration) (*pool.RunResult, error)
}

// Components are the collaborators an attempt flows through.
type Components struct {
	Resolver  Resolver
	Compiler  Compiler
	Manifests ManifestLoader
	Pool      Dispatcher
}

// Options tune the controller.
type Options struct {
	// Capacity is the number of attempts executed concurrently, and so the claim demand.
	Capacity        int
	DispatchTimeout time.Duration
	ClaimInterval   time.Duration
	// ReportTimeout bounds reports sent after the attempt context was canceled.
	ReportTimeout time.Duration
}

// Controller claims attempts and executes them.
type Controller struct {
	components Components
	logger     log.Logger
	tasks      *worker.Pool
	inflight   *xsync.MapOf[string, *execution]
	wake       chan struct{}
	opts       Options
}

// New creates a controller. Zero options take their defaults.
func New(components Components, opts Options, logger log.Logger) *Controller {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}

	if opts.ClaimInterval <= 0 {
		opts.ClaimInterval = DefaultClaimInterval
	}

	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = DefaultReportTimeout
	}

	return &Controller{
		components: components,
		logger:     logger,
		opts:       opts,
		tasks:      worker.NewWorkerPool(opts.Capacity),
		inflight:   xsync.NewMapOf[string, *execution](),
		wake:       make(chan struct{}, 1),
	}
}

// Run claims attempts until ctx is done or the queue connection is lost for good. The claim loop
// never blocks on executing attempts: it only asks for as many attempts as there are free slots.
//
// Once ctx is done no more attempts are claimed, and Run returns after the in-flight attempts finish.
func (controller *Controller) Run(ctx context.Context, ch protocol.Channel) error {
	controller.logger.Infof("Claiming up to %d attempts every %s", controller.opts.Capacity, controller.opts.ClaimInterval)

	// in-flight attempts run to completion on shutdown
	execCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(controller.opts.ClaimInterval)
	defer ticker.Stop()

	var runErr error

	for ctx.Err() == nil {
		if runErr = controller.claim(ctx, execCtx, ch); runErr != nil {
			break
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		case <-controller.wake:
		}
	}

	if active := controller.tasks.Active(); active > 0 {
		controller.logger.Infof("Waiting for %d in-flight attempts", active)
	}

	if err := controller.tasks.GracefulStop(); err != nil {
		controller.logger.Errorf("Attempt execution failed: %v", err)
	}

	return runErr
}

// claim asks for as many attempts as there are free slots and starts them. Only a closed
// connection is returned as an error; failed claims are retried on the next tick.
func (controller *Controller) claim(ctx, execCtx context.Context, ch protocol.Channel) error {
	demand := controller.tasks.Available()
	if demand == 0 {
		return nil
	}

	claimed, err := protocol.Claim(ctx, ch, demand)
	if err != nil {
		var closed protocol.ConnectionClosedError
		if errors.As(err, &closed) {
			return err
		}

		if ctx.Err() == nil {
			controller.logger.Warnf("Failed to claim attempts: %v", err)
		}

		return nil
	}

	if len(claimed) > 0 {
		controller.logger.Debugf("Claimed %d attempts", len(claimed))
		telemetry.Count(ctx, "attempt_claimed", int64(len(claimed)))
	}

	for _, attempt := range claimed {
		controller.tasks.Submit(func() error {
			defer controller.notify()

			// the terminal error was reported to the queue server and logged already
			_ = controller.Execute(execCtx, ch, attempt)

			return nil
		})
	}

	return nil
}

// notify wakes the claim loop up early after a slot was freed.
func (controller *Controller) notify() {
	select {
	case controller.wake <- struct{}{}:
	default:
	}
}

// Execute runs a claimed attempt to its terminal state and reports it. It returns the terminal
// error of the attempt, nil when it completed.
func (controller *Controller) Execute(ctx context.Context, ch protocol.Channel, claimed protocol.ClaimedAttempt) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	exec := newExecution(claimed.ID, cancel)

	if _, loaded := controller.inflight.LoadOrStore(claimed.ID, exec); loaded {
		return errors.Errorf("attempt %s is already in flight", claimed.ID)
	}
	defer controller.inflight.Delete(claimed.ID)

	run := &attemptRun{
		controller: controller,
		ch:         ch,
		exec:       exec,
		logger:     controller.logger.WithField(log.FieldKeyAttempt, claimed.ID),
	}

	attrs := map[string]any{"attempt": claimed.ID}

	return telemetry.TelemeterFromContext(ctx).Collect(ctx, "attempt_execute", attrs, func(ctx context.Context) (err error) {
		defer errors.Recover(func(cause error) {
			err = run.finish(ctx, cause)
		})

		return run.finish(ctx, run.execute(ctx))
	})
}

// Abort cancels an in-flight attempt, which then reports Failed. It returns false when the
// attempt is unknown or its terminal report is already on its way.
func (controller *Controller) Abort(attemptID, reason string) bool {
	exec, ok := controller.inflight.Load(attemptID)
	if !ok || exec.reported.Load() {
		return false
	}

	controller.logger.WithField(log.FieldKeyAttempt, attemptID).Warnf("Aborting attempt: %s", reason)
	exec.cancel(AttemptAbortedError{AttemptID: attemptID, Reason: reason})

	return true
}

// HandleMessage handles events pushed by the queue server.
func (controller *Controller) HandleMessage(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventAbort:
		var payload protocol.AbortPayload

		if err := msg.Decode(&payload); err != nil {
			controller.logger.Warnf("Ignoring %s: %v", msg.Event, err)
			return
		}

		if payload.AttemptID == "" {
			payload.AttemptID = strings.TrimPrefix(msg.Topic, protocol.AttemptTopic(""))
		}

		if !controller.Abort(payload.AttemptID, payload.Reason) {
			controller.logger.Debugf("Attempt %s is not in flight, nothing to abort", payload.AttemptID)
		}
	default:
		controller.logger.Debugf("Ignoring unexpected %s event on %s", msg.Event, msg.Topic)
	}
}

// InFlight returns the attempts being executed.
func (controller *Controller) InFlight() []Status {
	var statuses []Status

	controller.inflight.Range(func(_ string, exec *execution) bool {
		statuses = append(statuses, exec.status())
		return true
	})

	return statuses
}

// Capacity is the number of attempts executed concurrently.
func (controller *Controller) Capacity() int {
	return controller.tasks.Capacity()
}
