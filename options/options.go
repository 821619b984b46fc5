// Package options provides the options that configure a kit worker.
package options

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/telemetry"
	"github.com/River-unknown/kit/util"
)

const ContextKey ctxKey = iota

const (
	// DefaultConfigPath is read when present in the working directory.
	DefaultConfigPath = "kit.hcl"

	DefaultQueueURL          = "ws://localhost:4000/worker"
	DefaultRepoDir           = "~/.kit/repo"
	DefaultNpmCommand        = "npm"
	DefaultParserCommand     = "kit-parse"
	DefaultRuntimeCommand    = "kit-runtime"
	DefaultCapacity          = 5
	DefaultHTTPPort          = 2222
	DefaultDispatchTimeout   = 5 * time.Minute
	DefaultHandshakeTimeout  = 500 * time.Millisecond
	DefaultClaimInterval     = 10 * time.Second
	DefaultReconnectTimeout  = time.Minute
	DefaultInstallRetryDelay = 5 * time.Second
	DefaultInstallRetries    = 3

	defaultLogLevel = log.InfoLevel
)

type ctxKey byte

// WorkerOptions represents options that configure the behavior of a kit worker.
type WorkerOptions struct {
	Writer    io.Writer
	ErrWriter io.Writer
	// ConfigPath is the HCL file the options were loaded from, if any.
	ConfigPath string
	QueueURL   string
	// Secret authenticates the worker against the queue server.
	Secret            string
	RepoDir           string
	NpmCommand        string
	ParserCommand     string
	RuntimeCommand    string
	LogFormat         string
	TelemetryExporter string
	// Capacity is the number of attempts executed concurrently.
	Capacity int
	// PoolSize is the number of execution worker subprocesses.
	PoolSize          int
	HTTPPort          int
	InstallRetries    int
	DispatchTimeout   time.Duration
	HandshakeTimeout  time.Duration
	ClaimInterval     time.Duration
	ReconnectTimeout  time.Duration
	InstallRetryDelay time.Duration
	LogLevel          log.Level
	// DisableServer turns the status HTTP server off.
	DisableServer bool
}

// NewWorkerOptions returns the default options.
func NewWorkerOptions() *WorkerOptions {
	return NewWorkerOptionsWithWriters(os.Stdout, os.Stderr)
}

func NewWorkerOptionsWithWriters(stdout, stderr io.Writer) *WorkerOptions {
	return &WorkerOptions{
		Writer:            stdout,
		ErrWriter:         stderr,
		QueueURL:          DefaultQueueURL,
		RepoDir:           DefaultRepoDir,
		NpmCommand:        DefaultNpmCommand,
		ParserCommand:     DefaultParserCommand,
		RuntimeCommand:    DefaultRuntimeCommand,
		LogFormat:         log.FormatText,
		TelemetryExporter: telemetry.ExporterNone,
		Capacity:          DefaultCapacity,
		PoolSize:          runtime.NumCPU(),
		HTTPPort:          DefaultHTTPPort,
		InstallRetries:    DefaultInstallRetries,
		DispatchTimeout:   DefaultDispatchTimeout,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		ClaimInterval:     DefaultClaimInterval,
		ReconnectTimeout:  DefaultReconnectTimeout,
		InstallRetryDelay: DefaultInstallRetryDelay,
		LogLevel:          defaultLogLevel,
	}
}

// ContextWithOptions returns a new context carrying opts.
func ContextWithOptions(ctx context.Context, opts *WorkerOptions) context.Context {
	return context.WithValue(ctx, ContextKey, opts)
}

// OptionsFromContext tries to retrieve options from context, otherwise, returns its own instance.
func (opts *WorkerOptions) OptionsFromContext(ctx context.Context) *WorkerOptions {
	if val, ok := ctx.Value(ContextKey).(*WorkerOptions); ok && val != nil {
		return val
	}

	return opts
}

// Clone returns a shallow copy of opts.
func (opts *WorkerOptions) Clone() *WorkerOptions {
	clone := *opts
	return &clone
}

// Validate rejects options the worker cannot start with and expands the repo dir.
func (opts *WorkerOptions) Validate() error {
	errs := &errors.MultiError{}

	if opts.QueueURL == "" {
		errs = errs.Append(errors.New("queue URL is not set"))
	}

	for _, check := range []struct {
		name  string
		value int
	}{
		{"capacity", opts.Capacity},
		{"pool size", opts.PoolSize},
		{"install retries", opts.InstallRetries},
	} {
		if check.value <= 0 {
			errs = errs.Append(errors.Errorf("%s must be positive, got %d", check.name, check.value))
		}
	}

	for _, check := range []struct {
		name  string
		value time.Duration
	}{
		{"dispatch timeout", opts.DispatchTimeout},
		{"handshake timeout", opts.HandshakeTimeout},
		{"claim interval", opts.ClaimInterval},
		{"reconnect timeout", opts.ReconnectTimeout},
	} {
		if check.value <= 0 {
			errs = errs.Append(errors.Errorf("%s must be positive, got %s", check.name, check.value))
		}
	}

	if opts.HTTPPort < 0 || opts.HTTPPort > 65535 {
		errs = errs.Append(errors.Errorf("invalid HTTP port %d", opts.HTTPPort))
	}

	for _, command := range []struct {
		name  string
		value string
	}{
		{"npm command", opts.NpmCommand},
		{"parser command", opts.ParserCommand},
		{"runtime command", opts.RuntimeCommand},
	} {
		if name, _, err := util.SplitCommand(command.value); err != nil {
			errs = errs.Append(err)
		} else if name == "" {
			errs = errs.Append(errors.Errorf("%s is not set", command.name))
		}
	}

	switch opts.LogFormat {
	case log.FormatText, log.FormatJSON, log.FormatPretty:
	default:
		errs = errs.Append(errors.Errorf("unsupported log format %q", opts.LogFormat))
	}

	if !slices.Contains(telemetry.Exporters, opts.TelemetryExporter) {
		errs = errs.Append(errors.Errorf("unsupported telemetry exporter %q", opts.TelemetryExporter))
	}

	if opts.RepoDir == "" {
		errs = errs.Append(errors.New("repo dir is not set"))
	} else {
		repoDir, err := util.ExpandPath(opts.RepoDir)
		if err != nil {
			errs = errs.Append(err)
		} else {
			opts.RepoDir = filepath.Clean(repoDir)
		}
	}

	return errs.ErrorOrNil()
}
