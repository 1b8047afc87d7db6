// Package telemetry configures OpenTelemetry for the dev server.
//
// Instrument metrics (otelhttp server metrics) are always bridged into the
// Prometheus registry served on /__devserver/metrics. When an OTLP endpoint
// is configured, traces, metrics and logs are also exported over gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	logglobal "go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName is reported as service.name on every span, metric and log.
const ServiceName = "devserver"

// Options configures Setup.
type Options struct {
	// Endpoint is the OTLP/gRPC collector address (host:port). Empty disables export.
	Endpoint string
	Version  string
	// Registerer receives OpenTelemetry instrument metrics. Optional.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Telemetry holds the installed providers.
type Telemetry struct {
	// LogHandler forwards slog records to the OTLP log exporter.
	// Nil when export is disabled.
	LogHandler slog.Handler

	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops every provider, newest first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, t.shutdowns[i](ctx))
	}
	return errors.Join(errs...)
}

// Setup installs the global propagator and tracer, meter and logger
// providers. Without an endpoint the tracer provider is a no-op, so
// instrumentation stays in place at no cost.
func Setup(ctx context.Context, opts Options) (*Telemetry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", opts.Version),
	)
	t := &Telemetry{}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if opts.Registerer != nil {
		exporter, err := otelprom.New(otelprom.WithRegisterer(opts.Registerer))
		if err != nil {
			return nil, fmt.Errorf("creating Prometheus metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(exporter))
	}

	if opts.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
	} else {
		if err := t.setupExport(ctx, opts.Endpoint, res, &meterOpts); err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		opts.Logger.Info("telemetry export enabled", "endpoint", opts.Endpoint)
	}

	if len(meterOpts) > 1 {
		mp := sdkmetric.NewMeterProvider(meterOpts...)
		otel.SetMeterProvider(mp)
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
	}
	return t, nil
}

func (t *Telemetry) setupExport(ctx context.Context, endpoint string, res *resource.Resource, meterOpts *[]sdkmetric.Option) error {
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	t.shutdowns = append(t.shutdowns, tp.Shutdown)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	*meterOpts = append(*meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	logglobal.SetLoggerProvider(lp)
	t.shutdowns = append(t.shutdowns, lp.Shutdown)
	t.LogHandler = otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(lp))
	return nil
}

// Tracer returns the dev server's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}
