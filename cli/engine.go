package cli

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/River-unknown/kit/internal/engine"
	"github.com/River-unknown/kit/pkg/log"
)

// NewEngineCommand serves a job runtime to the worker pool of a parent kit process. Its stdout
// carries the plugin handshake, so everything is logged to stderr.
func NewEngineCommand() *cli.Command {
	return &cli.Command{
		Name:   CommandNameEngine,
		Usage:  "Run as an execution worker of a kit worker pool.",
		Hidden: true,
		Action: func(*cli.Context) error {
			level, err := log.ParseLevel(os.Getenv(engine.EngineLogLevelEnv))
			if err != nil {
				level = log.WarnLevel
			}

			logger := log.New(log.WithOutput(os.Stderr), log.WithLevel(level), log.WithFormat(log.FormatJSON))

			engine.Serve(engine.NewExecRuntime(os.Getenv(engine.RuntimeCommandEnv), os.Getenv(engine.RepoDirEnv), logger))

			return nil
		},
	}
}
