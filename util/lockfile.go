package util

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/gofrs/flock"
)

// Lockfile is an advisory file lock shared between worker processes that install into the same repo dir.
type Lockfile struct {
	*flock.Flock
}

func NewLockfile(filename string) *Lockfile {
	return &Lockfile{
		flock.New(filename),
	}
}

// Lock blocks until the lock is acquired or the context is done, polling every retryDelay.
func (lockfile *Lockfile) Lock(ctx context.Context, retryDelay time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(lockfile.Path()), os.ModePerm); err != nil {
		return errors.New(err)
	}

	locked, err := lockfile.TryLockContext(ctx, retryDelay)
	if err != nil {
		return errors.Errorf("unable to lock file %s: %w", lockfile.Path(), err)
	}

	if !locked {
		return errors.Errorf("unable to lock file %s", lockfile.Path())
	}

	return nil
}
