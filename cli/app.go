// Package cli implements the kit command line.
package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/River-unknown/kit/options"
	"github.com/River-unknown/kit/util"
)

const (
	AppName = "kit"

	CommandNameStart  = "start"
	CommandNameEngine = "engine"
)

// Version is set at build time with -ldflags "-X github.com/River-unknown/kit/cli.Version=...".
var Version = "dev"

// App is a wrapper for `urfave.cli.App` struct.
type App struct {
	*cli.App
}

// NewApp creates the kit CLI App.
func NewApp(opts *options.WorkerOptions) *App {
	app := cli.NewApp()
	app.Name = AppName
	app.Usage = "Claims attempts from a queue server and executes their jobs in isolated workers."
	app.Version = Version
	app.Writer = opts.Writer
	app.ErrWriter = opts.ErrWriter
	app.HideHelpCommand = true
	// exit codes are handled by main
	app.ExitErrHandler = func(*cli.Context, error) {}

	start := NewStartCommand(opts)

	app.Commands = []*cli.Command{start, NewEngineCommand()}
	app.Flags = NewStartFlags(opts)
	app.Action = start.Action

	return &App{App: app}
}

// RunContext runs the CLI app. The context is canceled on interrupt, which stops the worker gracefully.
func (app *App) RunContext(ctx context.Context, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	util.RegisterSignalInterceptor(cancel, shutdownSignals...)

	return app.App.RunContext(ctx, args)
}

var shutdownSignals = []os.Signal{os.Interrupt}
