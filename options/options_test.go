package options_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/options"
	"github.com/River-unknown/kit/pkg/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), options.DefaultConfigPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	opts := options.NewWorkerOptions()
	require.NoError(t, opts.Validate())

	assert.Equal(t, options.DefaultHandshakeTimeout, opts.HandshakeTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.HandshakeTimeout)
	assert.True(t, filepath.IsAbs(opts.RepoDir))
	assert.NotContains(t, opts.RepoDir, "~")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	t.Parallel()

	opts := options.NewWorkerOptions()
	opts.QueueURL = ""
	opts.Capacity = 0
	opts.PoolSize = -1
	opts.DispatchTimeout = 0
	opts.HTTPPort = 70000
	opts.TelemetryExporter = "jaeger"

	err := opts.Validate()
	require.Error(t, err)
	assert.Len(t, errors.UnwrapMultiErrors(err), 6)
	assert.Contains(t, err.Error(), "queue URL is not set")
	assert.Contains(t, err.Error(), "capacity must be positive")
	assert.Contains(t, err.Error(), "dispatch timeout must be positive")
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
queue_url        = "wss://queue.example.com/worker"
capacity         = 10
log_level        = "debug"
dispatch_timeout = "2m"
disable_server   = true

runtime {
  command           = "node runtime.js"
  pool_size         = 3
  handshake_timeout = "1s"
}

install {
  retries     = 5
  retry_delay = "10s"
}
`)

	opts := options.NewWorkerOptions()
	require.NoError(t, opts.LoadConfigFile(path))

	assert.Equal(t, path, opts.ConfigPath)
	assert.Equal(t, "wss://queue.example.com/worker", opts.QueueURL)
	assert.Equal(t, 10, opts.Capacity)
	assert.Equal(t, log.DebugLevel, opts.LogLevel)
	assert.Equal(t, 2*time.Minute, opts.DispatchTimeout)
	assert.True(t, opts.DisableServer)
	assert.Equal(t, "node runtime.js", opts.RuntimeCommand)
	assert.Equal(t, 3, opts.PoolSize)
	assert.Equal(t, time.Second, opts.HandshakeTimeout)
	assert.Equal(t, 5, opts.InstallRetries)
	assert.Equal(t, 10*time.Second, opts.InstallRetryDelay)

	// untouched attributes keep their defaults
	assert.Equal(t, options.DefaultNpmCommand, opts.NpmCommand)
	assert.Equal(t, options.DefaultClaimInterval, opts.ClaimInterval)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{name: "syntax", content: `capacity = `, want: "failed to read config file"},
		{name: "unknown attribute", content: `queue = "x"`, want: "failed to read config file"},
		{name: "wrong type", content: `capacity = "many"`, want: "failed to read config file"},
		{name: "bad duration", content: `claim_interval = "soon"`, want: "claim_interval"},
		{name: "bad level", content: `log_level = "loud"`, want: "invalid level"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := options.NewWorkerOptions().LoadConfigFile(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Parallel()

	err := options.NewWorkerOptions().LoadConfigFile(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
}

func TestOptionsFromContext(t *testing.T) {
	t.Parallel()

	opts := options.NewWorkerOptions()
	other := opts.Clone()
	other.Capacity = 42

	ctx := options.ContextWithOptions(t.Context(), other)

	assert.Same(t, other, opts.OptionsFromContext(ctx))
	assert.Same(t, opts, opts.OptionsFromContext(t.Context()))
	assert.Equal(t, options.DefaultCapacity, opts.Capacity)
}
