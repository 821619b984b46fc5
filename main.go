package main

import (
	"context"
	"os"

	"github.com/River-unknown/kit/cli"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/options"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/util"
)

// The main entrypoint for kit
func main() {
	opts := options.NewWorkerOptions()
	logger := log.New(log.WithOutput(opts.ErrWriter), log.WithLevel(opts.LogLevel))

	defer errors.Recover(checkForErrorsAndExit(logger))

	app := cli.NewApp(opts)

	ctx := log.ContextWithLogger(context.Background(), logger)
	err := app.RunContext(ctx, os.Args)

	checkForErrorsAndExit(logger)(err)
}

// If there is an error, display it in the console and exit with a non-zero exit code. Otherwise, exit 0.
func checkForErrorsAndExit(logger log.Logger) func(error) {
	return func(err error) {
		if err == nil {
			os.Exit(0)
		}

		logger.Error(err.Error())

		if errStack := errors.ErrorStack(err); errStack != "" {
			logger.Trace(errStack)
		}

		// exit with the underlying error code
		exitCode, exitCodeErr := util.GetExitCode(err)
		if exitCodeErr != nil || exitCode == 0 {
			exitCode = 1
		}

		os.Exit(exitCode)
	}
}
