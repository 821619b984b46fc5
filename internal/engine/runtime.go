package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/internal/protocol"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/util"
)

const (
	configurationKey = "configuration"
	errorsKey        = "errors"

	// waitDelay bounds how long a killed runtime's children may hold its output pipes open.
	waitDelay = time.Second
)

// runtimeInput is written to the runtime command's stdin.
type runtimeInput struct {
	State   map[string]any    `json:"state"`
	Modules map[string]string `json:"modules,omitempty"`
	JobID   string            `json:"job_id"`
	Source  string            `json:"source"`
	RepoDir string            `json:"repo_dir,omitempty"`
}

// runtimeOutput is read from the runtime command's stdout.
type runtimeOutput struct {
	State json.RawMessage       `json:"state"`
	Error *protocol.ErrorReport `json:"error,omitempty"`
	Logs  []runtimeLog          `json:"logs,omitempty"`
}

type runtimeLog struct {
	Level     string   `json:"level"`
	Message   []string `json:"message"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// ExecRuntime runs every job with an external command, e.g. a node script that evaluates the
// compiled module with the adaptor modules linked in. The command reads a JSON job on stdin and
// writes the final state, its logs and any error the job threw as JSON on stdout.
type ExecRuntime struct {
	Logger  log.Logger
	Command string
	RepoDir string
	Args    []string
}

// NewExecRuntime splits command into the executable and its arguments. An unparsable command
// leaves the runtime unconfigured, which fails its handshake.
func NewExecRuntime(command, repoDir string, logger log.Logger) *ExecRuntime {
	runtime := &ExecRuntime{Logger: logger, RepoDir: repoDir}

	if name, args, err := util.SplitCommand(command); err == nil {
		runtime.Command = name
		runtime.Args = args
	}

	return runtime
}

// Handshake fails when the runtime command cannot be found.
func (runtime *ExecRuntime) Handshake() error {
	if runtime.Command == "" {
		return errors.Errorf("runtime command is not configured")
	}

	if _, err := exec.LookPath(runtime.Command); err != nil {
		return errors.Errorf("invalid runtime command %q: %w", runtime.Command, err)
	}

	return nil
}

// Run executes the job. The credential is exposed to the job as state.configuration and removed
// from the state it returns. A job that throws yields a result carrying the error report, which is
// also recorded under state.errors[jobId].
func (runtime *ExecRuntime) Run(req *pool.RunRequest) (*pool.RunResult, error) {
	state, err := decodeState(req.State)
	if err != nil {
		return nil, err
	}

	if len(req.Credential) > 0 {
		var credential any
		if err := json.Unmarshal(req.Credential, &credential); err != nil {
			return nil, errors.Errorf("decode credential: %w", err)
		}

		state[configurationKey] = credential
	}

	input, err := json.Marshal(runtimeInput{
		JobID:   req.JobID,
		Source:  req.Source,
		State:   state,
		Modules: req.Modules,
		RepoDir: runtime.RepoDir,
	})
	if err != nil {
		return nil, errors.New(err)
	}

	ctx := context.Background()

	if req.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	runtime.Logger.Debugf("Running job %s", req.JobID)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, runtime.Command, runtime.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		// the command could not be started at all
		return nil, errors.Errorf("start runtime: %w", runErr)
	}

	var out runtimeOutput

	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil || len(out.State) == 0 {
		message := strings.TrimSpace(stderr.String())
		if message == "" && runErr != nil {
			message = runErr.Error()
		}

		if message == "" {
			message = "runtime produced no state"
		}

		out = runtimeOutput{Error: &protocol.ErrorReport{Name: "RuntimeCrash", Message: message}}

		// the job's input state is all that is known to be intact
		if out.State, err = json.Marshal(state); err != nil {
			return nil, errors.New(err)
		}
	}

	final, err := decodeState(out.State)
	if err != nil {
		return nil, err
	}

	delete(final, configurationKey)

	result := &pool.RunResult{Error: out.Error}

	for _, line := range out.Logs {
		result.Logs = append(result.Logs, pool.LogLine{Level: line.Level, Message: line.Message, Timestamp: line.Timestamp})
	}

	if out.Error != nil {
		out.Error.JobID = req.JobID
		result.Logs = append(result.Logs, reportError(final, req.JobID, out.Error)...)
	}

	if result.State, err = json.Marshal(final); err != nil {
		return nil, errors.New(err)
	}

	return result, nil
}

// reportError records report under state.errors[jobID] and returns the log lines announcing it.
func reportError(state map[string]any, jobID string, report *protocol.ErrorReport) []pool.LogLine {
	now := time.Now().UnixMilli()

	var lines []pool.LogLine

	if report.Message != "" {
		label := report.Code
		if label == "" {
			label = report.Name
		}

		if label == "" {
			label = "error"
		}

		lines = append(lines, pool.LogLine{Level: "error", Message: []string{fmt.Sprintf("%s: %s", label, report.Message)}, Timestamp: now})
	}

	lines = append(lines, pool.LogLine{Level: "error", Message: []string{fmt.Sprintf("Check state.errors.%s for details.", jobID)}, Timestamp: now})

	reports, _ := state[errorsKey].(map[string]any)
	if reports == nil {
		reports = map[string]any{}
	}

	reports[jobID] = report
	state[errorsKey] = reports

	return lines
}

func decodeState(data json.RawMessage) (map[string]any, error) {
	state := map[string]any{}

	if len(data) == 0 || string(data) == "null" {
		return state, nil
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Errorf("state must be a JSON object: %w", err)
	}

	if state == nil {
		state = map[string]any{}
	}

	return state, nil
}
