package autoinstall

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/util"
)

const (
	repoManifestFile = "package.json"
	installLockFile  = ".kit-install.lock"

	DefaultInstallRetries    = 2
	DefaultInstallRetryDelay = 3 * time.Second
	lockRetryDelay           = 200 * time.Millisecond
)

type repoManifest struct {
	Dependencies map[string]string `json:"dependencies"`
	Name         string            `json:"name"`
	Private      bool              `json:"private"`
}

// NpmInstaller installs adaptors into a shared repo directory with npm. Every version is
// installed under its alias (`name_version`) so versions never replace each other. Installs are
// serialized across processes with a lock file in the repo.
type NpmInstaller struct {
	Logger     log.Logger
	RepoDir    string
	Command    string
	Args       []string
	RetryDelay time.Duration
	MaxRetries int
}

// NewNpmInstaller returns an installer running command (e.g. "npm") in repoDir.
func NewNpmInstaller(repoDir, command string, logger log.Logger) *NpmInstaller {
	name, args, err := util.SplitCommand(command)
	if err != nil || name == "" {
		name, args = "npm", nil
	}

	return &NpmInstaller{
		Logger:     logger,
		RepoDir:    repoDir,
		Command:    name,
		Args:       args,
		RetryDelay: DefaultInstallRetryDelay,
		MaxRetries: DefaultInstallRetries,
	}
}

// EnsureRepo creates the repo directory and its package.json when missing.
func (installer *NpmInstaller) EnsureRepo() error {
	if err := util.EnsureDirectory(installer.RepoDir); err != nil {
		return err
	}

	path := filepath.Join(installer.RepoDir, repoManifestFile)
	if util.FileExists(path) {
		return nil
	}

	data, err := json.MarshalIndent(repoManifest{Name: "kit-repo", Private: true, Dependencies: map[string]string{}}, "", "  ")
	if err != nil {
		return errors.New(err)
	}

	installer.Logger.Debugf("Creating adaptor repo at %s", installer.RepoDir)

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.New(err)
	}

	return nil
}

// IsInstalled reports whether the repo package.json lists the alias of spec as a dependency.
func (installer *NpmInstaller) IsInstalled(_ context.Context, spec Specifier) (bool, error) {
	data, err := os.ReadFile(filepath.Join(installer.RepoDir, repoManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, errors.New(err)
	}

	var manifest repoManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false, errors.Errorf("invalid repo manifest in %s: %w", installer.RepoDir, err)
	}

	_, ok := manifest.Dependencies[spec.Alias()]

	return ok, nil
}

// Install runs `npm install <alias>@npm:<name>@<version>` in the repo.
func (installer *NpmInstaller) Install(ctx context.Context, spec Specifier) error {
	if err := installer.EnsureRepo(); err != nil {
		return err
	}

	lock := util.NewLockfile(filepath.Join(installer.RepoDir, installLockFile))
	if err := lock.Lock(ctx, lockRetryDelay); err != nil {
		return err
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			installer.Logger.Warnf("Failed to release install lock: %v", err)
		}
	}()

	// another process may have installed it while we waited for the lock
	if ok, err := installer.IsInstalled(ctx, spec); err == nil && ok {
		return nil
	}

	pkg := spec.Alias() + "@npm:" + spec.String()
	description := "npm install " + pkg

	return util.DoWithRetry(ctx, description, installer.MaxRetries, installer.RetryDelay, installer.Logger, log.DebugLevel, func(ctx context.Context) error {
		args := append(append([]string{}, installer.Args...), "install", "--no-audit", "--no-fund", "--no-package-lock", "--prefix", installer.RepoDir, pkg)

		var output bytes.Buffer

		cmd := exec.CommandContext(ctx, installer.Command, args...)
		cmd.Dir = installer.RepoDir
		cmd.Stdout = &output
		cmd.Stderr = &output

		if err := cmd.Run(); err != nil {
			return errors.Errorf("%s: %w: %s", description, err, strings.TrimSpace(output.String()))
		}

		return nil
	})
}
