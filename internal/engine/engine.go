// Package engine runs jobs in isolated worker subprocesses.
//
// Each pool worker is a copy of the kit binary started in engine mode and connected through
// hashicorp/go-plugin. The subprocess hosts a Runtime that executes compiled jobs, so a job that
// hangs or crashes only ever takes its own worker down.
package engine

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/pkg/log"
)

const (
	engineVersion     = 1
	engineCookieKey   = "KIT_ENGINE"
	engineCookieValue = "kit-worker"
	pluginName        = "runtime"

	EngineLogLevelEnv = "KIT_ENGINE_LOG_LEVEL"
	RuntimeCommandEnv = "KIT_RUNTIME_COMMAND"
	RepoDirEnv        = "KIT_REPO_DIR"
)

var handshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  engineVersion,
	MagicCookieKey:   engineCookieKey,
	MagicCookieValue: engineCookieValue,
}

// Options configures how worker subprocesses are started.
type Options struct {
	// Executable is the binary started in engine mode; defaults to the running executable.
	Executable string
	// Args select engine mode, e.g. ["engine"].
	Args []string
	// RuntimeCommand is the job runtime the worker executes jobs with.
	RuntimeCommand string
	RepoDir        string
	// LogLevel of the worker subprocess; its output is forwarded to the host log at debug level.
	LogLevel string
}

// Worker is a pool.Worker backed by a plugin subprocess.
type Worker struct {
	client   *plugin.Client
	runtime  *RPCClient
	id       string
	killOnce sync.Once
}

var _ pool.Worker = (*Worker)(nil)

// NewFactory returns a pool.Factory spawning engine subprocesses.
func NewFactory(l log.Logger, opts Options) pool.Factory {
	return func(ctx context.Context) (pool.Worker, error) {
		return Spawn(ctx, l, opts)
	}
}

// Spawn starts a worker subprocess and connects to it. The worker is not validated yet.
func Spawn(_ context.Context, l log.Logger, opts Options) (*Worker, error) {
	executable := opts.Executable
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, errors.New(err)
		}

		executable = self
	}

	id := uuid.NewString()
	l = l.WithField(log.FieldKeyWorker, id)

	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = hclog.Warn.String()
	}

	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   "worker",
		Level:  hclog.LevelFromString(logLevel),
		Output: &log.Writer{Logger: l, Level: log.DebugLevel},
	})

	// The worker outlives the request that spawned it; the pool kills it explicitly.
	cmd := exec.Command(executable, opts.Args...)
	cmd.Env = append(os.Environ(),
		EngineLogLevelEnv+"="+logLevel,
		RuntimeCommandEnv+"="+opts.RuntimeCommand,
		RepoDirEnv+"="+opts.RepoDir,
	)

	client := plugin.NewClient(&plugin.ClientConfig{
		Logger:          logger,
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]plugin.Plugin{
			pluginName: &RuntimePlugin{},
		},
		Cmd:              cmd,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errors.New(err)
	}

	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, errors.New(err)
	}

	runtime, ok := raw.(*RPCClient)
	if !ok {
		client.Kill()
		return nil, errors.Errorf("unexpected plugin client type %T", raw)
	}

	l.Debugf("Started worker %s", id)

	return &Worker{id: id, client: client, runtime: runtime}, nil
}

// NewWorker wraps an already dispensed runtime client that has no subprocess to kill.
func NewWorker(id string, runtime *RPCClient) *Worker {
	return &Worker{id: id, runtime: runtime}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Handshake(ctx context.Context) error {
	return w.runtime.Handshake(ctx)
}

func (w *Worker) Run(ctx context.Context, req *pool.RunRequest) (*pool.RunResult, error) {
	return w.runtime.Run(ctx, req)
}

// Kill stops the subprocess. go-plugin asks it to exit first and force kills it after a grace period.
func (w *Worker) Kill() error {
	w.killOnce.Do(func() {
		if w.client == nil {
			return
		}

		w.client.Kill()
	})

	return nil
}

// Serve runs the worker side in the current process and blocks until the host kills it.
func Serve(runtime Runtime) {
	logLevel := os.Getenv(EngineLogLevelEnv)
	if logLevel == "" {
		logLevel = hclog.Warn.String()
	}

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]plugin.Plugin{
			pluginName: &RuntimePlugin{Impl: runtime},
		},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:       "worker",
			Level:      hclog.LevelFromString(logLevel),
			Output:     os.Stderr,
			JSONFormat: true,
		}),
	})
}
