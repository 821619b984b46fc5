package cli

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/River-unknown/kit/internal/attempt"
	"github.com/River-unknown/kit/internal/autoinstall"
	"github.com/River-unknown/kit/internal/compiler"
	"github.com/River-unknown/kit/internal/engine"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
	"github.com/River-unknown/kit/internal/protocol"
	"github.com/River-unknown/kit/internal/server"
	"github.com/River-unknown/kit/options"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/telemetry"
	"github.com/River-unknown/kit/util"
)

const telemetryShutdownTimeout = 5 * time.Second

func NewStartCommand(opts *options.WorkerOptions) *cli.Command {
	return &cli.Command{
		Name:  CommandNameStart,
		Usage: "Connect to the queue server and execute claimed attempts until interrupted.",
		Flags: NewStartFlags(opts),
		Action: func(ctx *cli.Context) error {
			resolved, err := resolveOptions(ctx, opts)
			if err != nil {
				return err
			}

			return Run(ctx.Context, resolved)
		},
	}
}

// resolveOptions layers the config file and the set flags over the defaults in opts.
func resolveOptions(ctx *cli.Context, opts *options.WorkerOptions) (*options.WorkerOptions, error) {
	opts = opts.Clone()

	switch path := ctx.String(FlagNameConfig); {
	case ctx.IsSet(FlagNameConfig):
		if err := opts.LoadConfigFile(path); err != nil {
			return nil, err
		}
	case util.FileExists(path):
		if err := opts.LoadConfigFile(path); err != nil {
			return nil, err
		}
	}

	if err := applyFlags(ctx, opts); err != nil {
		return nil, err
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// NewLogger creates the logger described by opts.
func NewLogger(opts *options.WorkerOptions) log.Logger {
	return log.New(
		log.WithOutput(opts.ErrWriter),
		log.WithLevel(opts.LogLevel),
		log.WithFormat(opts.LogFormat),
	)
}

// Run starts the worker and blocks until ctx is done or the queue connection is lost for good.
// In-flight attempts are finished before it returns.
func Run(ctx context.Context, opts *options.WorkerOptions) error {
	logger := NewLogger(opts)

	tlm, err := telemetry.NewTelemeter(ctx, &telemetry.Options{
		Writer:     opts.ErrWriter,
		AppName:    AppName,
		AppVersion: Version,
		Exporter:   opts.TelemetryExporter,
	})
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()

		if err := tlm.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to flush telemetry: %v", err)
		}
	}()

	ctx = telemetry.ContextWithTelemeter(ctx, tlm)
	ctx = log.ContextWithLogger(ctx, logger)
	ctx = options.ContextWithOptions(ctx, opts)

	installer := autoinstall.NewNpmInstaller(opts.RepoDir, opts.NpmCommand, logger)
	installer.MaxRetries = opts.InstallRetries
	installer.RetryDelay = opts.InstallRetryDelay

	if err := installer.EnsureRepo(); err != nil {
		return err
	}

	resolver := autoinstall.NewResolver(opts.RepoDir, installer.IsInstalled, installer.Install, logger)

	workers := pool.New(engine.NewFactory(logger, engine.Options{
		Args:           []string{CommandNameEngine},
		RuntimeCommand: opts.RuntimeCommand,
		RepoDir:        opts.RepoDir,
		LogLevel:       opts.LogLevel.String(),
	}), opts.PoolSize, opts.HandshakeTimeout, logger)

	if err := workers.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := workers.Close(); err != nil {
			logger.Warnf("Failed to stop execution workers: %v", err)
		}
	}()

	controller := attempt.New(attempt.Components{
		Resolver:  resolver,
		Compiler:  compiler.New(compiler.NewExecParser(opts.ParserCommand), logger),
		Manifests: compiler.NewManifestLoader(),
		Pool:      workers,
	}, attempt.Options{
		Capacity:        opts.Capacity,
		DispatchTimeout: opts.DispatchTimeout,
		ClaimInterval:   opts.ClaimInterval,
	}, logger)

	logger.Infof("Connecting to %s", opts.QueueURL)

	client, err := protocol.Dial(ctx, opts.QueueURL,
		protocol.WithLogger(logger),
		protocol.WithSecret(opts.Secret),
		protocol.WithHandler(controller.HandleMessage),
		protocol.WithReconnectTimeout(opts.ReconnectTimeout),
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := client.Close(); err != nil {
			logger.Debugf("Failed to close queue connection: %v", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	if !opts.DisableServer {
		srv := server.NewServer(
			server.WithLogger(logger),
			server.WithPort(opts.HTTPPort),
			server.WithPool(workers),
			server.WithAttempts(controller),
			server.WithHealthCheck(connectionHealth(client)),
		)

		ln, err := srv.Listen()
		if err != nil {
			return err
		}

		group.Go(func() error {
			return srv.Run(groupCtx, ln)
		})
	}

	group.Go(func() error {
		// stop claiming as soon as the server failed
		return controller.Run(groupCtx, client)
	})

	if err := group.Wait(); err != nil && !errors.IsContextCanceled(err) {
		return err
	}

	logger.Infof("Worker stopped")

	return nil
}

// connectionHealth reports the queue connection as unhealthy once the client shut down.
func connectionHealth(client *protocol.Client) func() error {
	return func() error {
		select {
		case <-client.Done():
			if err := client.Err(); err != nil {
				return err
			}

			return protocol.ConnectionClosedError{}
		default:
			return nil
		}
	}
}
