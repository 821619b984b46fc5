package server

import (
	"net"
	"strconv"
	"time"

	"github.com/River-unknown/kit/pkg/log"
)

const (
	defaultHostname        = "localhost"
	defaultShutdownTimeout = time.Second * 30
)

type Option func(Config) Config

func WithHostname(hostname string) Option {
	return func(cfg Config) Config {
		if hostname != "" {
			cfg.hostname = hostname
		}

		return cfg
	}
}

// WithPort sets the listen port. Zero picks a free port.
func WithPort(port int) Option {
	return func(cfg Config) Config {
		cfg.port = port
		return cfg
	}
}

func WithLogger(logger log.Logger) Option {
	return func(cfg Config) Config {
		cfg.logger = logger
		return cfg
	}
}

// WithPool reports the execution worker pool in /status.
func WithPool(pool PoolStater) Option {
	return func(cfg Config) Config {
		cfg.pool = pool
		return cfg
	}
}

// WithAttempts reports the in-flight attempts in /status.
func WithAttempts(attempts AttemptTracker) Option {
	return func(cfg Config) Config {
		cfg.attempts = attempts
		return cfg
	}
}

// WithHealthCheck makes /healthz fail while check returns an error, e.g. when the queue connection is lost.
func WithHealthCheck(check func() error) Option {
	return func(cfg Config) Config {
		cfg.healthCheck = check
		return cfg
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg Config) Config {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}

		return cfg
	}
}

type Config struct {
	logger          log.Logger
	pool            PoolStater
	attempts        AttemptTracker
	healthCheck     func() error
	hostname        string
	port            int
	shutdownTimeout time.Duration
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		hostname:        defaultHostname,
		shutdownTimeout: defaultShutdownTimeout,
		logger:          log.Default(),
	}

	return cfg.WithOptions(opts...)
}

func (cfg *Config) WithOptions(opts ...Option) *Config {
	for _, opt := range opts {
		*cfg = opt(*cfg)
	}

	return cfg
}

func (cfg *Config) Addr() string {
	return net.JoinHostPort(cfg.hostname, strconv.Itoa(cfg.port))
}
