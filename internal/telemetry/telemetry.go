// Package telemetry provides OpenTelemetry tracing and Prometheus metrics
// for import runs.
//
// Tracing is disabled by default. When disabled, Init installs no-op
// providers and WrapClient returns the client unchanged unless metrics are
// collected.
//
// # Configuration
//
//	telemetry.enabled       enable OTel spans and metrics
//	telemetry.stdout        pretty-print spans and metrics to stderr
//	telemetry.metrics_file  write Prometheus metrics to a textfile after a run
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/markduk/portalmover"

// Config selects exporters.
type Config struct {
	Enabled     bool
	Stdout      bool
	ServiceName string
	Version     string
	// Writer receives stdout exporter output. Defaults to os.Stderr so
	// command output on stdout stays parseable.
	Writer io.Writer
}

// Provider holds the tracer and meter providers of one process.
type Provider struct {
	enabled     bool
	tracers     trace.TracerProvider
	meters      metric.MeterProvider
	shutdownFns []func(context.Context) error
}

// Init configures OTel providers and installs them globally. When
// telemetry is disabled this installs no-op providers and returns
// immediately.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		p := NewProvider(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
		p.enabled = false
		otel.SetTracerProvider(p.tracers)
		otel.SetMeterProvider(p.meters)
		return p, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "portalmover"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	tp, err := buildTraceProvider(res, cfg.Stdout, w)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace provider: %w", err)
	}
	mp, err := buildMetricProvider(res, cfg.Stdout, w)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric provider: %w", err)
	}

	p := NewProvider(tp, mp)
	p.shutdownFns = append(p.shutdownFns, tp.Shutdown, mp.Shutdown)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return p, nil
}

// NewProvider wraps existing providers. The result reports Enabled.
func NewProvider(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	return &Provider{enabled: true, tracers: tp, meters: mp}
}

func buildTraceProvider(res *resource.Resource, stdout bool, w io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func buildMetricProvider(res *resource.Resource, stdout bool, w io.Writer) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if stdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint(), stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Enabled reports whether spans and OTel metrics are recorded.
func (p *Provider) Enabled() bool { return p != nil && p.enabled }

// Tracer returns a tracer with the given instrumentation name (or the
// module scope).
func (p *Provider) Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return p.tracers.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the module
// scope).
func (p *Provider) Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return p.meters.Meter(name)
}

// Shutdown flushes spans and metrics and shuts the providers down.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdownFns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFns = nil
	return errors.Join(errs...)
}
