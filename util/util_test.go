package util_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
	"github.com/River-unknown/kit/util"
)

func TestExpandPath(t *testing.T) {
	t.Parallel()

	path, err := util.ExpandPath("~/.kit/repo")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, "repo", filepath.Base(path))

	path, err = util.ExpandPath("relative")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestEnsureDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, util.EnsureDirectory(dir))
	require.NoError(t, util.EnsureDirectory(dir))
	assert.True(t, util.FileExists(dir))
	assert.False(t, util.FileExists(filepath.Join(dir, "missing")))
}

func TestDoWithRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := util.DoWithRetry(t.Context(), "flaky", 3, time.Millisecond, log.Discard(), log.DebugLevel, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoWithRetryExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	err := util.DoWithRetry(t.Context(), "broken", 2, time.Millisecond, log.Discard(), log.DebugLevel, func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	var exceeded util.MaxRetriesExceeded
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 2, exceeded.MaxRetries)
	assert.Equal(t, 3, calls)
}

func TestDoWithRetryFatal(t *testing.T) {
	t.Parallel()

	calls := 0
	err := util.DoWithRetry(t.Context(), "fatal", 5, time.Millisecond, log.Discard(), log.DebugLevel, func(context.Context) error {
		calls++
		return util.FatalError{Underlying: errors.New("no point")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestLockfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", ".lock")

	first := util.NewLockfile(path)
	require.NoError(t, first.Lock(t.Context(), time.Millisecond))

	second := util.NewLockfile(path)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	require.Error(t, second.Lock(ctx, 10*time.Millisecond))

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock(t.Context(), time.Millisecond))
	require.NoError(t, second.Unlock())
}

func TestGetExitCode(t *testing.T) {
	t.Parallel()

	code, err := util.GetExitCode(cli.Exit("bad flags", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	runErr := exec.Command("sh", "-c", "exit 7").Run()
	code, err = util.GetExitCode(errors.Errorf("runtime: %w", runErr))
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	multi := (&errors.MultiError{}).Append(errors.New("plain"), cli.Exit("", 4))
	code, err = util.GetExitCode(multi)
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	plain := errors.New("plain")
	_, err = util.GetExitCode(plain)
	assert.Equal(t, plain, err)
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	name, args, err := util.SplitCommand(`node "my runtime.js" --strict`)
	require.NoError(t, err)
	assert.Equal(t, "node", name)
	assert.Equal(t, []string{"my runtime.js", "--strict"}, args)

	name, args, err = util.SplitCommand("  ")
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Empty(t, args)

	_, _, err = util.SplitCommand(`node "unterminated`)
	require.Error(t, err)
}
