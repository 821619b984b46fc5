package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/telemetry"
)

func TestConsoleExporter(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}

	tlm, err := telemetry.NewTelemeter(t.Context(), &telemetry.Options{
		Writer:     buf,
		AppName:    "kit-test",
		AppVersion: "v0.0.1",
		Exporter:   telemetry.ExporterConsole,
	})
	require.NoError(t, err)

	ctx := telemetry.ContextWithTelemeter(t.Context(), tlm)

	err = telemetry.TelemeterFromContext(ctx).Collect(ctx, "attempt_execute", map[string]any{"attempt": "a-1"}, func(ctx context.Context) error {
		telemetry.Count(ctx, "attempt_claimed", 2)
		return errors.New("job failed")
	})
	require.EqualError(t, err, "job failed")

	require.NoError(t, tlm.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "attempt_execute")
	assert.Contains(t, out, "attempt_execute_duration")
	assert.Contains(t, out, "attempt_claimed")
	assert.Contains(t, out, "kit-test")
}

func TestNoneExporter(t *testing.T) {
	t.Parallel()

	tlm, err := telemetry.NewTelemeter(t.Context(), &telemetry.Options{Exporter: telemetry.ExporterNone})
	require.NoError(t, err)

	called := false
	require.NoError(t, tlm.Collect(t.Context(), "noop", nil, func(context.Context) error {
		called = true
		return nil
	}))

	assert.True(t, called)
	require.NoError(t, tlm.Shutdown(t.Context()))
}

func TestUnsupportedExporter(t *testing.T) {
	t.Parallel()

	_, err := telemetry.NewTelemeter(t.Context(), &telemetry.Options{Exporter: "jaeger"})
	require.Error(t, err)
}

func TestCleanMetricName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "attempt_completed", telemetry.CleanMetricName("attempt completed"))
	assert.Equal(t, "adaptor_manifest_cache_hit", telemetry.CleanMetricName("__adaptor-manifest__cache_hit"))
}

func TestOTLPExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:1")

	tlm, err := telemetry.NewTelemeter(t.Context(), &telemetry.Options{Exporter: telemetry.ExporterOTLP})
	require.NoError(t, err)

	tlm.Count(t.Context(), "attempt_claimed", 1)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	// nothing listens on the endpoint, only the shutdown path is exercised
	_ = tlm.Shutdown(ctx)
}
