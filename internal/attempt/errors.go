package attempt

import (
	"fmt"

	"github.com/River-unknown/kit/internal/autoinstall"
	"github.com/River-unknown/kit/internal/compiler"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/internal/protocol"
)

// AttemptAbortedError is the terminal error of an attempt aborted by the queue server.
type AttemptAbortedError struct {
	AttemptID string
	Reason    string
}

func (err AttemptAbortedError) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("attempt %s aborted", err.AttemptID)
	}

	return fmt.Sprintf("attempt %s aborted: %s", err.AttemptID, err.Reason)
}

// JobRuntimeError is returned when a job throws. The remaining jobs of the attempt are skipped.
type JobRuntimeError struct {
	Report *protocol.ErrorReport
	JobID  string
}

func (err JobRuntimeError) Error() string {
	return fmt.Sprintf("job %s failed: %s: %s", err.JobID, err.Report.Name, err.Report.Message)
}

// errorReport converts the terminal error of an attempt into the report sent to the queue server.
func errorReport(err error) *protocol.ErrorReport {
	if err == nil {
		return nil
	}

	var (
		jobErr     JobRuntimeError
		aborted    AttemptAbortedError
		timeout    pool.TimeoutError
		workerErr  pool.WorkerError
		installErr autoinstall.InstallError
		compileErr compiler.CompileError
		specErr    autoinstall.InvalidSpecifierError
	)

	switch {
	case errors.As(err, &jobErr):
		report := *jobErr.Report
		report.JobID = jobErr.JobID

		return &report
	case errors.As(err, &aborted):
		return &protocol.ErrorReport{Name: "AttemptAborted", Message: aborted.Error()}
	case errors.As(err, &timeout):
		return &protocol.ErrorReport{Name: "TimeoutError", Message: timeout.Error(), JobID: timeout.JobID}
	case errors.As(err, &workerErr):
		return &protocol.ErrorReport{Name: "WorkerError", Message: workerErr.Error()}
	case errors.As(err, &installErr):
		return &protocol.ErrorReport{Name: "InstallError", Message: installErr.Error()}
	case errors.As(err, &compileErr):
		return &protocol.ErrorReport{Name: "CompileError", Message: compileErr.Error(), JobID: compileErr.JobID}
	case errors.As(err, &specErr):
		return &protocol.ErrorReport{Name: "InvalidSpecifier", Message: specErr.Error()}
	}

	return &protocol.ErrorReport{Name: "Error", Message: err.Error()}
}

// terminalState maps the outcome of an attempt to its terminal state and protocol status.
func terminalState(err error) (State, string) {
	if err == nil {
		return Completed, protocol.StatusCompleted
	}

	var timeout pool.TimeoutError
	if errors.As(err, &timeout) {
		return TimedOut, protocol.StatusTimedOut
	}

	return Failed, protocol.StatusFailed
}
