package attempt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/River-unknown/kit/internal/autoinstall"
	"github.com/River-unknown/kit/internal/compiler"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/internal/protocol"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/telemetry"
	"github.com/River-unknown/kit/util"
)

const (
	reportRetries    = 10
	reportRetryDelay = 200 * time.Millisecond
)

var emptyState = json.RawMessage(`{}`)

// attemptRun executes one attempt. It is used by a single goroutine.
type attemptRun struct {
	controller *Controller
	ch         protocol.Channel
	exec       *execution
	logger     log.Logger
	// finalDataclipID is the output dataclip of the last job that reported run-complete.
	finalDataclipID string
}

// compiledJob is a job ready to be dispatched.
type compiledJob struct {
	modules map[string]string
	source  string
	job     protocol.Job
}

func (run *attemptRun) execute(ctx context.Context) error {
	components := run.controller.components

	attempt, err := protocol.GetAttempt(ctx, run.ch, run.exec.id)
	if err != nil {
		return errors.Errorf("fetch attempt %s: %w", run.exec.id, err)
	}

	if err := run.request(ctx, protocol.EventAttemptStart, protocol.AttemptStartPayload{AttemptID: attempt.ID}); err != nil {
		return err
	}

	run.logger.Infof("Started attempt with %d jobs", len(attempt.Jobs))

	run.exec.transition(Resolving)

	specs, err := autoinstall.IdentifyAdaptors(attempt.Jobs)
	if err != nil {
		return err
	}

	modules, err := components.Resolver.Resolve(ctx, specs)
	if err != nil {
		return err
	}

	run.exec.transition(Compiling)

	jobs, err := run.compile(ctx, attempt.Jobs, modules)
	if err != nil {
		return err
	}

	run.exec.transition(Running)

	state := emptyState

	// the initial state is only fetched once everything is ready to run
	if attempt.DataclipID != "" {
		if state, err = protocol.GetDataclip(ctx, run.ch, attempt.ID, attempt.DataclipID); err != nil {
			return errors.Errorf("fetch dataclip %s: %w", attempt.DataclipID, err)
		}
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return errors.New(context.Cause(ctx))
		}

		if state, err = run.runJob(ctx, job, state); err != nil {
			return err
		}
	}

	return nil
}

func (run *attemptRun) compile(ctx context.Context, jobs []protocol.Job, modules map[string]autoinstall.Module) ([]compiledJob, error) {
	components := run.controller.components
	compiled := make([]compiledJob, 0, len(jobs))

	for _, job := range jobs {
		var (
			adaptor compiler.Adaptor
			paths   map[string]string
		)

		if job.Adaptor != "" {
			spec, err := autoinstall.ParseSpecifier(job.Adaptor)
			if err != nil {
				return nil, err
			}

			module, ok := modules[spec.Name]
			if !ok {
				return nil, errors.Errorf("adaptor %s of job %s was not resolved", spec, job.ID)
			}

			if module.Specifier != spec {
				return nil, errors.Errorf("attempt requires adaptor %s in more than one version: %s and %s", spec.Name, module.Specifier.Version, spec.Version)
			}

			if adaptor, err = components.Manifests.Load(ctx, spec.String(), module.Path); err != nil {
				return nil, compiler.CompileError{JobID: job.ID, Err: err}
			}

			paths = map[string]string{spec.String(): module.Path}
		}

		source, err := components.Compiler.Compile(ctx, job.ID, job.Body, adaptor)
		if err != nil {
			return nil, err
		}

		compiled = append(compiled, compiledJob{job: job, source: source, modules: paths})
	}

	return compiled, nil
}

// runJob runs job on state and returns the state the job produced.
func (run *attemptRun) runJob(ctx context.Context, job compiledJob, state json.RawMessage) (json.RawMessage, error) {
	controller := run.controller
	attemptID := run.exec.id
	logger := run.logger.WithField(log.FieldKeyJob, job.job.ID)

	var credential json.RawMessage

	if job.job.Credential != "" {
		body, err := protocol.GetCredential(ctx, run.ch, attemptID, job.job.Credential)
		if err != nil {
			return nil, errors.Errorf("fetch credential %s for job %s: %w", job.job.Credential, job.job.ID, err)
		}

		credential = body
	}

	runID := uuid.NewString()
	logger = logger.WithField(log.FieldKeyRun, runID)

	start := protocol.RunStartPayload{AttemptID: attemptID, JobID: job.job.ID, RunID: runID, Timestamp: time.Now().UnixMilli()}
	if err := run.request(ctx, protocol.EventRunStart, start); err != nil {
		return nil, err
	}

	logger.Debugf("Running job")

	result, err := controller.components.Pool.Dispatch(ctx, &pool.RunRequest{
		AttemptID:  attemptID,
		JobID:      job.job.ID,
		RunID:      runID,
		Source:     job.source,
		State:      state,
		Credential: credential,
		Modules:    job.modules,
	}, controller.opts.DispatchTimeout)

	complete := protocol.RunCompletePayload{AttemptID: attemptID, JobID: job.job.ID, RunID: runID}

	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}

		complete.Error = errorReport(err)
		complete.Timestamp = time.Now().UnixMilli()

		// the run was started, so it is closed even when the attempt was aborted
		if reportErr := run.report(ctx, protocol.EventRunComplete, complete); reportErr != nil {
			logger.Warnf("Failed to report run completion: %v", reportErr)
		}

		return nil, err
	}

	run.publishLogs(ctx, runID, result.Logs, logger)

	outputID := uuid.NewString()

	complete.OutputDataclipID = outputID
	complete.OutputDataclip = result.State
	complete.Error = result.Error
	complete.Timestamp = time.Now().UnixMilli()

	if err := run.request(ctx, protocol.EventRunComplete, complete); err != nil {
		return nil, err
	}

	run.finalDataclipID = outputID

	if result.Error != nil {
		return nil, JobRuntimeError{JobID: job.job.ID, Report: result.Error}
	}

	logger.Debugf("Job completed")

	return result.State, nil
}

// publishLogs forwards job log lines to the local log and the queue server.
func (run *attemptRun) publishLogs(ctx context.Context, runID string, lines []pool.LogLine, logger log.Logger) {
	topic := protocol.AttemptTopic(run.exec.id)

	for _, line := range lines {
		level, err := log.ParseLevel(line.Level)
		if err != nil {
			level = log.InfoLevel
		}

		logger.Logf(level, "%s", strings.Join(line.Message, " "))

		timestamp := line.Timestamp
		if timestamp == 0 {
			timestamp = time.Now().UnixMilli()
		}

		payload := protocol.LogPayload{
			AttemptID: run.exec.id,
			RunID:     runID,
			Level:     level.String(),
			Message:   line.Message,
			Timestamp: timestamp,
		}

		if err := run.ch.Push(ctx, topic, protocol.EventAttemptLog, payload); err != nil {
			logger.Debugf("Failed to publish log line: %v", err)
		}
	}
}

// finish moves the attempt to its terminal state and sends attempt-complete, exactly once.
func (run *attemptRun) finish(ctx context.Context, err error) error {
	var aborted AttemptAbortedError
	if cause := context.Cause(ctx); err != nil && errors.As(cause, &aborted) {
		err = aborted
	}

	state, status := terminalState(err)

	if !run.exec.claimReport() {
		return err
	}

	run.exec.transition(state)

	payload := protocol.AttemptCompletePayload{
		AttemptID:       run.exec.id,
		Status:          status,
		FinalDataclipID: run.finalDataclipID,
		Error:           errorReport(err),
	}

	if reportErr := run.report(ctx, protocol.EventAttemptComplete, payload); reportErr != nil {
		run.logger.Errorf("Failed to report attempt completion: %v", reportErr)
	}

	telemetry.Count(ctx, "attempt_"+status, 1)

	if err != nil {
		run.logger.Errorf("Attempt %s: %v", status, err)
	} else {
		run.logger.Infof("Attempt completed")
	}

	return err
}

func (run *attemptRun) request(ctx context.Context, event string, payload any) error {
	return run.ch.Request(ctx, protocol.AttemptTopic(run.exec.id), event, payload, nil)
}

// report sends event even after ctx was canceled. Protocol errors are retried until the report timeout.
func (run *attemptRun) report(ctx context.Context, event string, payload any) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), run.controller.opts.ReportTimeout)
	defer cancel()

	description := "Report " + event

	return util.DoWithRetry(ctx, description, reportRetries, reportRetryDelay, run.logger, log.TraceLevel, func(ctx context.Context) error {
		err := run.request(ctx, event, payload)

		var protoErr protocol.ProtocolError
		if err != nil && !errors.As(err, &protoErr) {
			return util.FatalError{Underlying: err}
		}

		return err
	})
}
