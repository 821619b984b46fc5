package cli

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/River-unknown/kit/options"
	"github.com/River-unknown/kit/pkg/log"
)

const (
	EnvVarPrefix = "KIT_"

	FlagNameConfig            = "config"
	FlagNameQueueURL          = "queue-url"
	FlagNameSecret            = "secret"
	FlagNameCapacity          = "capacity"
	FlagNamePoolSize          = "pool-size"
	FlagNameDispatchTimeout   = "dispatch-timeout"
	FlagNameHandshakeTimeout  = "handshake-timeout"
	FlagNameClaimInterval     = "claim-interval"
	FlagNameReconnectTimeout  = "reconnect-timeout"
	FlagNameRepoDir           = "repo-dir"
	FlagNameNpmCommand        = "npm-command"
	FlagNameParserCommand     = "parser-command"
	FlagNameRuntimeCommand    = "runtime-command"
	FlagNamePort              = "port"
	FlagNameNoServer          = "no-server"
	FlagNameLogLevel          = "log-level"
	FlagNameLogFormat         = "log-format"
	FlagNameTelemetryExporter = "telemetry-exporter"
)

// envVars returns the environment variable of the flag, e.g. KIT_QUEUE_URL for queue-url.
func envVars(name string) []string {
	env := make([]byte, 0, len(EnvVarPrefix)+len(name))
	env = append(env, EnvVarPrefix...)

	for i := range len(name) {
		switch c := name[i]; {
		case c == '-':
			env = append(env, '_')
		case c >= 'a' && c <= 'z':
			env = append(env, c-'a'+'A')
		default:
			env = append(env, c)
		}
	}

	return []string{string(env)}
}

// NewStartFlags returns the flags of the start command. Defaults are shown in the help only:
// a flag overrides the config file just when it is set on the command line or in the environment.
func NewStartFlags(defaults *options.WorkerOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagNameConfig,
			EnvVars: envVars(FlagNameConfig),
			Usage:   "HCL file to read the worker configuration from.",
			Value:   options.DefaultConfigPath,
		},
		&cli.StringFlag{
			Name:    FlagNameQueueURL,
			EnvVars: envVars(FlagNameQueueURL),
			Usage:   "Websocket URL of the queue server.",
			Value:   defaults.QueueURL,
		},
		&cli.StringFlag{
			Name:    FlagNameSecret,
			EnvVars: envVars(FlagNameSecret),
			Usage:   "Secret the worker authenticates with.",
		},
		&cli.IntFlag{
			Name:    FlagNameCapacity,
			EnvVars: envVars(FlagNameCapacity),
			Usage:   "Number of attempts executed concurrently.",
			Value:   defaults.Capacity,
		},
		&cli.IntFlag{
			Name:    FlagNamePoolSize,
			EnvVars: envVars(FlagNamePoolSize),
			Usage:   "Number of execution worker processes.",
			Value:   defaults.PoolSize,
		},
		&cli.DurationFlag{
			Name:    FlagNameDispatchTimeout,
			EnvVars: envVars(FlagNameDispatchTimeout),
			Usage:   "Maximum run time of a single job.",
			Value:   defaults.DispatchTimeout,
		},
		&cli.DurationFlag{
			Name:    FlagNameHandshakeTimeout,
			EnvVars: envVars(FlagNameHandshakeTimeout),
			Usage:   "Time a new execution worker has to answer its handshake.",
			Value:   defaults.HandshakeTimeout,
		},
		&cli.DurationFlag{
			Name:    FlagNameClaimInterval,
			EnvVars: envVars(FlagNameClaimInterval),
			Usage:   "Interval between claims while capacity is free.",
			Value:   defaults.ClaimInterval,
		},
		&cli.DurationFlag{
			Name:    FlagNameReconnectTimeout,
			EnvVars: envVars(FlagNameReconnectTimeout),
			Usage:   "Time to keep reconnecting to the queue server before giving up.",
			Value:   defaults.ReconnectTimeout,
		},
		&cli.StringFlag{
			Name:    FlagNameRepoDir,
			EnvVars: envVars(FlagNameRepoDir),
			Usage:   "Directory adaptors are installed into.",
			Value:   defaults.RepoDir,
		},
		&cli.StringFlag{
			Name:    FlagNameNpmCommand,
			EnvVars: envVars(FlagNameNpmCommand),
			Usage:   "Package manager used to install adaptors.",
			Value:   defaults.NpmCommand,
		},
		&cli.StringFlag{
			Name:    FlagNameParserCommand,
			EnvVars: envVars(FlagNameParserCommand),
			Usage:   "Command printing the ESTree JSON of the job script on stdin.",
			Value:   defaults.ParserCommand,
		},
		&cli.StringFlag{
			Name:    FlagNameRuntimeCommand,
			EnvVars: envVars(FlagNameRuntimeCommand),
			Usage:   "Command executing a compiled job.",
			Value:   defaults.RuntimeCommand,
		},
		&cli.IntFlag{
			Name:    FlagNamePort,
			EnvVars: envVars(FlagNamePort),
			Usage:   "Port of the status server.",
			Value:   defaults.HTTPPort,
		},
		&cli.BoolFlag{
			Name:    FlagNameNoServer,
			EnvVars: envVars(FlagNameNoServer),
			Usage:   "Do not start the status server.",
		},
		&cli.StringFlag{
			Name:    FlagNameLogLevel,
			EnvVars: envVars(FlagNameLogLevel),
			Usage:   "Log level, one of " + log.AllLevels.String() + ".",
			Value:   defaults.LogLevel.String(),
		},
		&cli.StringFlag{
			Name:    FlagNameLogFormat,
			EnvVars: envVars(FlagNameLogFormat),
			Usage:   "Log format, one of text, json or pretty.",
			Value:   defaults.LogFormat,
		},
		&cli.StringFlag{
			Name:    FlagNameTelemetryExporter,
			EnvVars: envVars(FlagNameTelemetryExporter),
			Usage:   "Telemetry exporter, one of none, console or otlp.",
			Value:   defaults.TelemetryExporter,
		},
	}
}

// applyFlags overrides opts with every flag set on the command line or in the environment.
func applyFlags(ctx *cli.Context, opts *options.WorkerOptions) error {
	texts := map[string]*string{
		FlagNameQueueURL:          &opts.QueueURL,
		FlagNameSecret:            &opts.Secret,
		FlagNameRepoDir:           &opts.RepoDir,
		FlagNameNpmCommand:        &opts.NpmCommand,
		FlagNameParserCommand:     &opts.ParserCommand,
		FlagNameRuntimeCommand:    &opts.RuntimeCommand,
		FlagNameLogFormat:         &opts.LogFormat,
		FlagNameTelemetryExporter: &opts.TelemetryExporter,
	}

	for name, target := range texts {
		if ctx.IsSet(name) {
			*target = ctx.String(name)
		}
	}

	ints := map[string]*int{
		FlagNameCapacity: &opts.Capacity,
		FlagNamePoolSize: &opts.PoolSize,
		FlagNamePort:     &opts.HTTPPort,
	}

	for name, target := range ints {
		if ctx.IsSet(name) {
			*target = ctx.Int(name)
		}
	}

	durations := map[string]*time.Duration{
		FlagNameDispatchTimeout:  &opts.DispatchTimeout,
		FlagNameHandshakeTimeout: &opts.HandshakeTimeout,
		FlagNameClaimInterval:    &opts.ClaimInterval,
		FlagNameReconnectTimeout: &opts.ReconnectTimeout,
	}

	for name, target := range durations {
		if ctx.IsSet(name) {
			*target = ctx.Duration(name)
		}
	}

	if ctx.IsSet(FlagNameNoServer) {
		opts.DisableServer = ctx.Bool(FlagNameNoServer)
	}

	if ctx.IsSet(FlagNameLogLevel) {
		level, err := log.ParseLevel(ctx.String(FlagNameLogLevel))
		if err != nil {
			return err
		}

		opts.LogLevel = level
	}

	return nil
}
