package engine_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/River-unknown/kit/internal/engine"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/pkg/log"
)

func shellRuntime(t *testing.T, script string, args ...string) *engine.ExecRuntime {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	return &engine.ExecRuntime{
		Logger:  log.Discard(),
		Command: "sh",
		Args:    append([]string{"-c", script, "sh"}, args...),
		RepoDir: "/repo",
	}
}

func TestExecRuntimeHandshake(t *testing.T) {
	t.Parallel()

	require.Error(t, engine.NewExecRuntime("", "", log.Discard()).Handshake())
	require.Error(t, engine.NewExecRuntime("kit-runtime-that-does-not-exist", "", log.Discard()).Handshake())
	require.NoError(t, shellRuntime(t, "true").Handshake())
}

func TestExecRuntimePassesCredentialAsConfiguration(t *testing.T) {
	t.Parallel()

	input := filepath.Join(t.TempDir(), "input.json")

	// echoes the job input back: its state becomes the output state
	rt := shellRuntime(t, `tee "$1"`, input)

	res, err := rt.Run(&pool.RunRequest{
		JobID:      "job-1",
		Source:     "fn();",
		State:      json.RawMessage(`{"data":{"x":1}}`),
		Credential: json.RawMessage(`{"password":"secret"}`),
		Modules:    map[string]string{"common@1.0.0": "/repo/node_modules/common_1.0.0"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Error)
	assert.JSONEq(t, `{"data":{"x":1}}`, string(res.State))

	data, err := os.ReadFile(input)
	require.NoError(t, err)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "job-1", sent["job_id"])
	assert.Equal(t, "fn();", sent["source"])
	assert.Equal(t, "/repo", sent["repo_dir"])
	assert.Equal(t, map[string]any{"data": map[string]any{"x": float64(1)}, "configuration": map[string]any{"password": "secret"}}, sent["state"])
}

func TestExecRuntimeReportsJobErrors(t *testing.T) {
	t.Parallel()

	output := `{"state":{"data":{}},"logs":[{"level":"info","message":["starting"]}],"error":{"name":"TypeError","message":"x is not a function"}}`
	rt := shellRuntime(t, `cat >/dev/null; printf '%s' "$1"`, output)

	res, err := rt.Run(&pool.RunRequest{JobID: "job-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, "TypeError", res.Error.Name)
	assert.Equal(t, "job-1", res.Error.JobID)

	var messages []string
	for _, line := range res.Logs {
		messages = append(messages, line.Message...)
	}

	assert.Equal(t, []string{"starting", "TypeError: x is not a function", "Check state.errors.job-1 for details."}, messages)

	var state map[string]any
	require.NoError(t, json.Unmarshal(res.State, &state))
	assert.Contains(t, state["errors"], "job-1")
}

func TestExecRuntimeErrorCodeTakesPrecedence(t *testing.T) {
	t.Parallel()

	output := `{"state":{},"error":{"name":"Error","code":"ECONNREFUSED","message":"connect failed"}}`
	rt := shellRuntime(t, `cat >/dev/null; printf '%s' "$1"`, output)

	res, err := rt.Run(&pool.RunRequest{JobID: "job-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ECONNREFUSED: connect failed"}, res.Logs[0].Message)
}

func TestExecRuntimeCrash(t *testing.T) {
	t.Parallel()

	rt := shellRuntime(t, `cat >/dev/null; echo "SyntaxError: Unexpected token" >&2; exit 1`)

	res, err := rt.Run(&pool.RunRequest{JobID: "job-1", State: json.RawMessage(`{"data":1}`)})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, "RuntimeCrash", res.Error.Name)
	assert.Equal(t, "SyntaxError: Unexpected token", res.Error.Message)

	var state map[string]any
	require.NoError(t, json.Unmarshal(res.State, &state))
	assert.InDelta(t, 1, state["data"], 0)
}

func TestExecRuntimeTimeout(t *testing.T) {
	t.Parallel()

	rt := shellRuntime(t, `cat >/dev/null; sleep 5`)

	start := time.Now()
	res, err := rt.Run(&pool.RunRequest{JobID: "job-1", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecRuntimeRejectsNonObjectState(t *testing.T) {
	t.Parallel()

	_, err := shellRuntime(t, "true").Run(&pool.RunRequest{JobID: "job-1", State: json.RawMessage(`[1,2]`)})
	require.Error(t, err)
}
