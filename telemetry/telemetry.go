// Package telemetry wires the OpenTelemetry SDK: metrics, traces and logs.
package telemetry

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/go-logr/stdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Config struct {
	ServiceName string
	// Export enables the OTLP gRPC exporters, configured through the standard
	// OTEL_EXPORTER_OTLP_* environment variables.
	Export bool
}

type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
	Logger *sdklog.LoggerProvider

	// Reader is set when metrics are not exported and must be collected in process.
	Reader *sdkmetric.ManualReader

	shutdownFuncs []func(context.Context) error
}

// Setup builds the providers and registers them globally. Call Shutdown on the
// result to flush and release them, even when Setup failed half way.
func Setup(ctx context.Context, cfg Config) (providers *Providers, err error) {
	providers = &Providers{}
	defer func() {
		if err != nil {
			err = errors.Join(err, providers.Shutdown(ctx))
		}
	}()

	otel.SetLogger(stdr.New(log.New(os.Stderr, "otel: ", log.LstdFlags)))

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return providers, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Metrics
	var reader sdkmetric.Reader
	if cfg.Export {
		exporter, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return providers, err
		}
		reader = sdkmetric.NewPeriodicReader(exporter)
	} else {
		providers.Reader = sdkmetric.NewManualReader()
		reader = providers.Reader
	}
	providers.Meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	providers.shutdownFuncs = append(providers.shutdownFuncs, providers.Meter.Shutdown)
	otel.SetMeterProvider(providers.Meter)

	// Traces
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Export {
		exporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return providers, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	providers.Tracer = sdktrace.NewTracerProvider(traceOpts...)
	providers.shutdownFuncs = append(providers.shutdownFuncs, providers.Tracer.Shutdown)
	otel.SetTracerProvider(providers.Tracer)

	// Logs
	logOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if cfg.Export {
		exporter, err := otlploggrpc.New(ctx)
		if err != nil {
			return providers, err
		}
		logOpts = append(logOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	}
	providers.Logger = sdklog.NewLoggerProvider(logOpts...)
	providers.shutdownFuncs = append(providers.shutdownFuncs, providers.Logger.Shutdown)
	global.SetLoggerProvider(providers.Logger)

	return providers, nil
}

// Shutdown flushes and stops every provider, joining their errors.
func (providers *Providers) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range providers.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	providers.shutdownFuncs = nil
	return err
}
