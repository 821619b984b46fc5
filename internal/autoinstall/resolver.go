// Package autoinstall makes sure every adaptor an attempt needs is installed before its jobs run.
//
// Install outcomes are tracked in a process-wide table keyed by specifier. The first caller that
// needs a missing specifier starts the install; every concurrent caller waits on the same record
// and observes the same outcome, so a specifier is never installed twice at the same time.
//
// Successful records live for the process lifetime. A failed record is evicted once its waiters
// are released, so the next attempt that needs the specifier retries the install instead of
// failing on a cached error.
package autoinstall

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/telemetry"
)

// InstallState is the lifecycle state of an install record.
type InstallState int

const (
	Pending InstallState = iota
	Installed
	Failed
)

func (state InstallState) String() string {
	switch state {
	case Pending:
		return "pending"
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	}

	return "unknown"
}

// Module is a resolved adaptor.
type Module struct {
	Specifier Specifier
	Path      string
}

// IsInstalledFunc reports whether spec is already present in the repo.
type IsInstalledFunc func(ctx context.Context, spec Specifier) (bool, error)

// InstallFunc installs spec into the repo.
type InstallFunc func(ctx context.Context, spec Specifier) error

// installRecord is one in-flight or finished install. done is closed exactly once, after which
// state and err never change.
type installRecord struct {
	done  chan struct{}
	err   error
	state InstallState
	mu    sync.RWMutex
}

func newInstallRecord() *installRecord {
	return &installRecord{done: make(chan struct{}), state: Pending}
}

func (record *installRecord) finish(err error) {
	record.mu.Lock()
	defer record.mu.Unlock()

	record.err = err
	record.state = Installed

	if err != nil {
		record.state = Failed
	}

	close(record.done)
}

func (record *installRecord) State() InstallState {
	record.mu.RLock()
	defer record.mu.RUnlock()

	return record.state
}

func (record *installRecord) wait(ctx context.Context) error {
	select {
	case <-record.done:
		return record.err
	case <-ctx.Done():
		return errors.New(ctx.Err())
	}
}

// Resolver installs missing adaptors, deduplicating concurrent requests per specifier.
type Resolver struct {
	logger      log.Logger
	records     *xsync.MapOf[string, *installRecord]
	isInstalled IsInstalledFunc
	install     InstallFunc
	repoDir     string
}

// NewResolver creates a resolver installing into repoDir with the given collaborators.
func NewResolver(repoDir string, isInstalled IsInstalledFunc, install InstallFunc, logger log.Logger) *Resolver {
	return &Resolver{
		logger:      logger,
		records:     xsync.NewMapOf[string, *installRecord](),
		isInstalled: isInstalled,
		install:     install,
		repoDir:     repoDir,
	}
}

// Path returns the directory spec is installed to.
func (resolver *Resolver) Path(spec Specifier) string {
	return filepath.Join(resolver.repoDir, "node_modules", spec.Alias())
}

// State returns the state of the install record of spec, false if none was ever created.
func (resolver *Resolver) State(spec Specifier) (InstallState, bool) {
	record, ok := resolver.records.Load(spec.String())
	if !ok {
		return Pending, false
	}

	return record.State(), true
}

// Resolve installs every missing specifier and returns the installed modules keyed by adaptor name.
// It fails with an InstallError naming the first specifier that could not be installed; installs of
// the other specifiers carry on regardless.
func (resolver *Resolver) Resolve(ctx context.Context, specs []Specifier) (map[string]Module, error) {
	var (
		modules = make(map[string]Module, len(specs))
		mu      sync.Mutex
	)

	group, ctx := errgroup.WithContext(ctx)

	for _, spec := range specs {
		group.Go(func() error {
			if err := resolver.resolve(ctx, spec); err != nil {
				return err
			}

			mu.Lock()
			modules[spec.Name] = Module{Specifier: spec, Path: resolver.Path(spec)}
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return modules, nil
}

func (resolver *Resolver) resolve(ctx context.Context, spec Specifier) error {
	logger := resolver.logger.WithField(log.FieldKeySpecifier, spec.String())

	installed, err := resolver.isInstalled(ctx, spec)
	if err != nil {
		return InstallError{Specifier: spec.String(), Err: err}
	}

	if installed {
		logger.Debugf("Adaptor %s already installed", spec)
		return nil
	}

	record, loaded := resolver.records.LoadOrCompute(spec.String(), newInstallRecord)
	if loaded {
		logger.Debugf("Waiting for install of %s", spec)
	} else {
		// The install outlives the caller that started it: other attempts may be waiting on it.
		go resolver.runInstall(context.WithoutCancel(ctx), spec, record, logger)
	}

	return record.wait(ctx)
}

func (resolver *Resolver) runInstall(ctx context.Context, spec Specifier, record *installRecord, logger log.Logger) {
	logger.Infof("Installing adaptor %s", spec)

	telemeter := telemetry.TelemeterFromContext(ctx)

	err := telemeter.Collect(ctx, "adaptor_install", map[string]any{"specifier": spec.String()}, func(ctx context.Context) (installErr error) {
		defer errors.Recover(func(cause error) { installErr = cause })

		return resolver.install(ctx, spec)
	})

	if err != nil {
		logger.Errorf("Failed to install adaptor %s: %v", spec, err)
		telemeter.Count(ctx, "adaptor_install_failed", 1)
		record.finish(InstallError{Specifier: spec.String(), Err: err})

		// A failed record is only shared by the requests that were waiting on it;
		// the next request for the specifier tries again.
		resolver.records.Compute(spec.String(), func(current *installRecord, loaded bool) (*installRecord, bool) {
			return current, !loaded || current == record
		})

		return
	}

	logger.Infof("Installed adaptor %s", spec)
	telemeter.Count(ctx, "adaptor_installed", 1)
	record.finish(nil)
}
