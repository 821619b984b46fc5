// Package telemetry provides a way to collect telemetry from function execution - metrics and traces.
package telemetry

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ExporterNone disables exporting; instruments are no-ops.
	ExporterNone = "none"
	// ExporterConsole writes spans and metrics as JSON to the configured writer.
	ExporterConsole = "console"
	// ExporterOTLP sends spans and metrics to an OTLP/HTTP collector configured through the
	// standard OTEL_EXPORTER_OTLP_* environment variables.
	ExporterOTLP = "otlp"

	metricsInterval = 10 * time.Second
)

// Exporters lists the supported exporter names.
var Exporters = []string{ExporterNone, ExporterConsole, ExporterOTLP}

// Options configure the telemetry providers.
type Options struct {
	Writer     io.Writer
	AppName    string
	AppVersion string
	Exporter   string
}

// Telemeter wraps a tracer and a meter.
type Telemeter struct {
	tracer     trace.Tracer
	meter      metric.Meter
	counters   *xsync.MapOf[string, metric.Int64Counter]
	histograms *xsync.MapOf[string, metric.Float64Histogram]
	shutdown   []func(context.Context) error
}

var (
	defaultOnce sync.Once
	defaultTlm  *Telemeter
)

func defaultTelemeter() *Telemeter {
	defaultOnce.Do(func() {
		defaultTlm = newTelemeter(otel.Tracer("kit"), otel.Meter("kit"))
	})

	return defaultTlm
}

func newTelemeter(tracer trace.Tracer, meter metric.Meter) *Telemeter {
	return &Telemeter{
		tracer:     tracer,
		meter:      meter,
		counters:   xsync.NewMapOf[string, metric.Int64Counter](),
		histograms: xsync.NewMapOf[string, metric.Float64Histogram](),
	}
}

// NewTelemeter initializes the telemetry collector.
func NewTelemeter(ctx context.Context, opts *Options) (*Telemeter, error) {
	if opts == nil || opts.Exporter == "" || opts.Exporter == ExporterNone {
		return newTelemeter(otel.Tracer(appName(opts)), otel.Meter(appName(opts))), nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(appName(opts)),
		semconv.ServiceVersion(opts.AppVersion),
	)

	traceExporter, metricExporter, err := newExporters(ctx, opts)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricsInterval))),
	)

	tlm := newTelemeter(tracerProvider.Tracer(appName(opts)), meterProvider.Meter(appName(opts)))
	tlm.shutdown = []func(context.Context) error{tracerProvider.Shutdown, meterProvider.Shutdown}

	return tlm, nil
}

func newExporters(ctx context.Context, opts *Options) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	switch opts.Exporter {
	case ExporterConsole:
		writer := opts.Writer
		if writer == nil {
			writer = os.Stderr
		}

		traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
		if err != nil {
			return nil, nil, errors.New(err)
		}

		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(writer))
		if err != nil {
			return nil, nil, errors.New(err)
		}

		return traceExporter, metricExporter, nil
	case ExporterOTLP:
		traceExporter, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, nil, errors.New(err)
		}

		metricExporter, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, nil, errors.New(err)
		}

		return traceExporter, metricExporter, nil
	default:
		return nil, nil, errors.Errorf("unsupported telemetry exporter %q", opts.Exporter)
	}
}

func appName(opts *Options) string {
	if opts == nil || opts.AppName == "" {
		return "kit"
	}

	return opts.AppName
}

// Shutdown flushes and stops the telemetry providers.
func (tlm *Telemeter) Shutdown(ctx context.Context) error {
	errs := &errors.MultiError{}

	for _, shutdown := range tlm.shutdown {
		errs = errs.Append(shutdown(ctx))
	}

	tlm.shutdown = nil

	return errs.ErrorOrNil()
}

// Collect runs fn inside a span named name and records its duration in the `<name>_duration` histogram.
func (tlm *Telemeter) Collect(ctx context.Context, name string, attrs map[string]any, fn func(childCtx context.Context) error) error {
	kvs := mapToAttributes(attrs)

	ctx, span := tlm.tracer.Start(ctx, name, trace.WithAttributes(kvs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	if histogram, ok := tlm.histogram(CleanMetricName(name + "_duration")); ok {
		histogram.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(kvs...))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// Count adds value to the named counter.
func (tlm *Telemeter) Count(ctx context.Context, name string, value int64) {
	if counter, ok := tlm.counter(CleanMetricName(name)); ok {
		counter.Add(ctx, value)
	}
}

func (tlm *Telemeter) counter(name string) (metric.Int64Counter, bool) {
	var failed bool

	counter, _ := tlm.counters.LoadOrCompute(name, func() metric.Int64Counter {
		counter, err := tlm.meter.Int64Counter(name)
		failed = err != nil

		return counter
	})

	return counter, !failed && counter != nil
}

func (tlm *Telemeter) histogram(name string) (metric.Float64Histogram, bool) {
	var failed bool

	histogram, _ := tlm.histograms.LoadOrCompute(name, func() metric.Float64Histogram {
		histogram, err := tlm.meter.Float64Histogram(name, metric.WithUnit("s"))
		failed = err != nil

		return histogram
	})

	return histogram, !failed && histogram != nil
}
