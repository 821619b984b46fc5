package autoinstall_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/River-unknown/kit/internal/autoinstall"
	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/protocol"
	"github.com/River-unknown/kit/pkg/log"
)

func mustParse(t *testing.T, raw string) autoinstall.Specifier {
	t.Helper()

	spec, err := autoinstall.ParseSpecifier(raw)
	require.NoError(t, err)

	return spec
}

func notInstalled(context.Context, autoinstall.Specifier) (bool, error) {
	return false, nil
}

func TestParseSpecifier(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw     string
		name    string
		version string
		valid   bool
	}{
		{raw: "common@1.0.0", name: "common", version: "1.0.0", valid: true},
		{raw: "@kit/language-http@2.1.0", name: "@kit/language-http", version: "2.1.0", valid: true},
		{raw: "common@1.0.0-rc.1", name: "common", version: "1.0.0-rc.1", valid: true},
		{raw: "common"},
		{raw: "common@"},
		{raw: "@1.0.0"},
		{raw: "common@latest"},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()

			spec, err := autoinstall.ParseSpecifier(tc.raw)
			if !tc.valid {
				var invalid autoinstall.InvalidSpecifierError
				require.ErrorAs(t, err, &invalid)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.name, spec.Name)
			assert.Equal(t, tc.version, spec.Version)
			assert.Equal(t, tc.raw, spec.String())
		})
	}
}

func TestIdentifyAdaptors(t *testing.T) {
	t.Parallel()

	specs, err := autoinstall.IdentifyAdaptors([]protocol.Job{
		{ID: "a", Adaptor: "common@1.0.0"},
		{ID: "b", Adaptor: "common@1.0.0"},
		{ID: "c"},
		{ID: "d", Adaptor: "common@1.0.1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []autoinstall.Specifier{
		{Name: "common", Version: "1.0.0"},
		{Name: "common", Version: "1.0.1"},
	}, specs)

	_, err = autoinstall.IdentifyAdaptors([]protocol.Job{{ID: "a", Adaptor: "common"}})
	require.Error(t, err)
}

func TestResolveReturnsModulesByName(t *testing.T) {
	t.Parallel()

	resolver := autoinstall.NewResolver("a/b/c", notInstalled, func(context.Context, autoinstall.Specifier) error {
		return nil
	}, log.Discard())

	modules, err := resolver.Resolve(t.Context(), []autoinstall.Specifier{
		mustParse(t, "common@1.0.0"),
		mustParse(t, "http@1.0.0"),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("a/b/c", "node_modules", "common_1.0.0"), modules["common"].Path)
	assert.Equal(t, filepath.Join("a/b/c", "node_modules", "http_1.0.0"), modules["http"].Path)
	assert.Len(t, modules, 2)

	state, ok := resolver.State(mustParse(t, "common@1.0.0"))
	assert.True(t, ok)
	assert.Equal(t, autoinstall.Installed, state)
}

func TestResolveSkipsInstalledAdaptors(t *testing.T) {
	t.Parallel()

	var installs atomic.Int32

	resolver := autoinstall.NewResolver("repo", func(context.Context, autoinstall.Specifier) (bool, error) {
		return true, nil
	}, func(context.Context, autoinstall.Specifier) error {
		installs.Add(1)
		return nil
	}, log.Discard())

	modules, err := resolver.Resolve(t.Context(), []autoinstall.Specifier{mustParse(t, "common@1.0.0")})
	require.NoError(t, err)
	assert.Contains(t, modules, "common")
	assert.Zero(t, installs.Load())
}

func TestConcurrentResolveInstallsOnce(t *testing.T) {
	t.Parallel()

	const callers = 20

	var (
		installs atomic.Int32
		release  = make(chan struct{})
	)

	resolver := autoinstall.NewResolver("repo", notInstalled, func(context.Context, autoinstall.Specifier) error {
		installs.Add(1)
		<-release

		return nil
	}, log.Discard())

	spec := mustParse(t, "http@1.0.0")

	var (
		wg      sync.WaitGroup
		results = make([]map[string]autoinstall.Module, callers)
		errs    = make([]error, callers)
	)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], errs[i] = resolver.Resolve(t.Context(), []autoinstall.Specifier{spec})
		}()
	}

	require.Eventually(t, func() bool { return installs.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), installs.Load())

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestConcurrentResolveSharesFailure(t *testing.T) {
	t.Parallel()

	const callers = 5

	var (
		installs atomic.Int32
		release  = make(chan struct{})
	)

	resolver := autoinstall.NewResolver("repo", notInstalled, func(context.Context, autoinstall.Specifier) error {
		installs.Add(1)
		<-release

		return errors.New("registry unavailable")
	}, log.Discard())

	spec := mustParse(t, "broken@1.0.0")

	var (
		wg   sync.WaitGroup
		errs = make([]error, callers)
	)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = resolver.Resolve(t.Context(), []autoinstall.Specifier{spec})
		}()
	}

	require.Eventually(t, func() bool { return installs.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	// let every caller attach to the pending record before it fails
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		var installErr autoinstall.InstallError
		require.ErrorAs(t, errs[i], &installErr)
		assert.Equal(t, "broken@1.0.0", installErr.Specifier)
		assert.Equal(t, errs[0], errs[i])
	}
}

func TestFailedInstallOnlyFailsItsSpecifier(t *testing.T) {
	t.Parallel()

	var installed sync.Map

	resolver := autoinstall.NewResolver("repo", notInstalled, func(_ context.Context, spec autoinstall.Specifier) error {
		if spec.Name == "broken" {
			return errors.New("no such package")
		}

		time.Sleep(20 * time.Millisecond)
		installed.Store(spec.String(), true)

		return nil
	}, log.Discard())

	_, err := resolver.Resolve(t.Context(), []autoinstall.Specifier{
		mustParse(t, "broken@1.0.0"),
		mustParse(t, "common@1.0.0"),
	})

	var installErr autoinstall.InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, "broken@1.0.0", installErr.Specifier)

	// the sibling install keeps going and is reusable by later attempts
	modules, err := resolver.Resolve(t.Context(), []autoinstall.Specifier{mustParse(t, "common@1.0.0")})
	require.NoError(t, err)
	assert.Contains(t, modules, "common")

	_, ok := installed.Load("common@1.0.0")
	assert.True(t, ok)
}

func TestFailedInstallIsRetriedByLaterRequests(t *testing.T) {
	t.Parallel()

	var installs atomic.Int32

	resolver := autoinstall.NewResolver("repo", notInstalled, func(context.Context, autoinstall.Specifier) error {
		if installs.Add(1) == 1 {
			return errors.New("network hiccup")
		}

		return nil
	}, log.Discard())

	spec := mustParse(t, "http@1.0.0")

	_, err := resolver.Resolve(t.Context(), []autoinstall.Specifier{spec})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		_, ok := resolver.State(spec)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	_, err = resolver.Resolve(t.Context(), []autoinstall.Specifier{spec})
	require.NoError(t, err)
	assert.Equal(t, int32(2), installs.Load())
}

func TestInstallPanicIsReported(t *testing.T) {
	t.Parallel()

	resolver := autoinstall.NewResolver("repo", notInstalled, func(context.Context, autoinstall.Specifier) error {
		panic("boom")
	}, log.Discard())

	_, err := resolver.Resolve(t.Context(), []autoinstall.Specifier{mustParse(t, "common@1.0.0")})

	var installErr autoinstall.InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Contains(t, err.Error(), "boom")
}
