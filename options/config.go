package options

import (
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
)

// FileConfig is the structure of the kit.hcl worker configuration file. Every attribute is optional.
//
//	queue_url        = "wss://queue.example.com/worker"
//	capacity         = 10
//	dispatch_timeout = "2m"
//
//	runtime {
//	  command   = "node /opt/kit/runtime.js"
//	  pool_size = 4
//	}
type FileConfig struct {
	QueueURL          *string        `hcl:"queue_url,optional"`
	Secret            *string        `hcl:"secret,optional"`
	RepoDir           *string        `hcl:"repo_dir,optional"`
	NpmCommand        *string        `hcl:"npm_command,optional"`
	ParserCommand     *string        `hcl:"parser_command,optional"`
	LogLevel          *string        `hcl:"log_level,optional"`
	LogFormat         *string        `hcl:"log_format,optional"`
	TelemetryExporter *string        `hcl:"telemetry_exporter,optional"`
	Capacity          *int           `hcl:"capacity,optional"`
	HTTPPort          *int           `hcl:"http_port,optional"`
	DisableServer     *bool          `hcl:"disable_server,optional"`
	DispatchTimeout   *string        `hcl:"dispatch_timeout,optional"`
	ClaimInterval     *string        `hcl:"claim_interval,optional"`
	ReconnectTimeout  *string        `hcl:"reconnect_timeout,optional"`
	Runtime           *RuntimeConfig `hcl:"runtime,block"`
	Install           *InstallConfig `hcl:"install,block"`
}

// RuntimeConfig is the "runtime" block configuring the execution workers.
type RuntimeConfig struct {
	Command          *string `hcl:"command,optional"`
	PoolSize         *int    `hcl:"pool_size,optional"`
	HandshakeTimeout *string `hcl:"handshake_timeout,optional"`
}

// InstallConfig is the "install" block configuring adaptor installs.
type InstallConfig struct {
	Retries    *int    `hcl:"retries,optional"`
	RetryDelay *string `hcl:"retry_delay,optional"`
}

// LoadConfigFile reads the HCL file at path and overrides the options it sets.
func (opts *WorkerOptions) LoadConfigFile(path string) error {
	var cfg FileConfig

	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return errors.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := opts.apply(&cfg); err != nil {
		return errors.Errorf("invalid config file %s: %w", path, err)
	}

	opts.ConfigPath = path

	return nil
}

func (opts *WorkerOptions) apply(cfg *FileConfig) error {
	setString(&opts.QueueURL, cfg.QueueURL)
	setString(&opts.Secret, cfg.Secret)
	setString(&opts.RepoDir, cfg.RepoDir)
	setString(&opts.NpmCommand, cfg.NpmCommand)
	setString(&opts.ParserCommand, cfg.ParserCommand)
	setString(&opts.LogFormat, cfg.LogFormat)
	setString(&opts.TelemetryExporter, cfg.TelemetryExporter)
	setInt(&opts.Capacity, cfg.Capacity)
	setInt(&opts.HTTPPort, cfg.HTTPPort)

	if cfg.DisableServer != nil {
		opts.DisableServer = *cfg.DisableServer
	}

	if cfg.LogLevel != nil {
		level, err := log.ParseLevel(*cfg.LogLevel)
		if err != nil {
			return err
		}

		opts.LogLevel = level
	}

	durations := []durationSetting{
		{&opts.DispatchTimeout, cfg.DispatchTimeout, "dispatch_timeout"},
		{&opts.ClaimInterval, cfg.ClaimInterval, "claim_interval"},
		{&opts.ReconnectTimeout, cfg.ReconnectTimeout, "reconnect_timeout"},
	}

	if cfg.Runtime != nil {
		setString(&opts.RuntimeCommand, cfg.Runtime.Command)
		setInt(&opts.PoolSize, cfg.Runtime.PoolSize)

		durations = append(durations, durationSetting{&opts.HandshakeTimeout, cfg.Runtime.HandshakeTimeout, "runtime.handshake_timeout"})
	}

	if cfg.Install != nil {
		setInt(&opts.InstallRetries, cfg.Install.Retries)

		durations = append(durations, durationSetting{&opts.InstallRetryDelay, cfg.Install.RetryDelay, "install.retry_delay"})
	}

	for _, duration := range durations {
		if duration.value == nil {
			continue
		}

		value, err := time.ParseDuration(*duration.value)
		if err != nil {
			return errors.Errorf("%s: %w", duration.name, err)
		}

		*duration.target = value
	}

	return nil
}

type durationSetting struct {
	target *time.Duration
	value  *string
	name   string
}

func setString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

func setInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}
