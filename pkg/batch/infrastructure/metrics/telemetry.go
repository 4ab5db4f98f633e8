package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const instrumentationName = "github.com/tigerroll/chunkbatch"

// Telemetry owns the recorder, tracer and metrics server selected by configuration,
// and the providers that must be flushed on shutdown.
type Telemetry struct {
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	// Server is nil unless the prometheus backend is enabled.
	Server *MetricsServer

	shutdowns []func(context.Context) error
}

// NewTelemetry builds the telemetry backends described by cfg.
// Disabled metrics or tracing fall back to the no-op implementations.
func NewTelemetry(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	t := &Telemetry{
		Recorder: metrics.NewNoOpMetricRecorder(),
		Tracer:   metrics.NewNoOpTracer(),
	}
	mc := cfg.ChunkBatch.Metrics
	tc := cfg.ChunkBatch.Tracing
	res := resource.NewSchemaless(attribute.String("service.name", tc.ServiceName))

	if mc.Enabled {
		switch strings.ToLower(mc.Backend) {
		case "prometheus":
			recorder := NewPrometheusRecorder()
			t.Recorder = recorder
			t.Server = NewMetricsServer(mc.ListenAddress, recorder.GetRegistry())
		case "otlp":
			provider, err := NewMeterProvider(ctx, mc, res)
			if err != nil {
				return nil, err
			}
			t.shutdowns = append(t.shutdowns, provider.Shutdown)
			recorder, err := NewOTelRecorder(provider.Meter(instrumentationName))
			if err != nil {
				return nil, multierror.Append(err, provider.Shutdown(ctx))
			}
			t.Recorder = recorder
		default:
			return nil, fmt.Errorf("unsupported metrics backend %q", mc.Backend)
		}
		logger.Infof("Metrics enabled (backend: %s).", mc.Backend)
	}

	if tc.Enabled {
		provider, err := NewTracerProvider(ctx, tc, res)
		if err != nil {
			return nil, multierror.Append(err, t.Shutdown(ctx))
		}
		t.shutdowns = append(t.shutdowns, provider.Shutdown)
		t.Tracer = NewOpenTelemetryTracer(provider.Tracer(instrumentationName))
		logger.Infof("Tracing enabled (protocol: %s, endpoint: %s).", tc.Protocol, tc.Endpoint)
	}
	return t, nil
}

// Shutdown flushes and stops every provider. Errors are aggregated.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs error
	for _, shutdown := range t.shutdowns {
		if err := shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	t.shutdowns = nil
	return errs
}

// NewTracerProvider creates a batching tracer provider exporting over OTLP gRPC or HTTP.
func NewTracerProvider(ctx context.Context, tc config.TracingConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch strings.ToLower(tc.Protocol) {
	case "grpc", "":
		opts := []otlptracegrpc.Option{}
		if tc.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(tc.Endpoint))
		}
		if tc.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{}
		if tc.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(tc.Endpoint))
		}
		if tc.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported tracing protocol %q", tc.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// NewMeterProvider creates a meter provider periodically exporting over OTLP gRPC or HTTP.
func NewMeterProvider(ctx context.Context, mc config.MetricsConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch strings.ToLower(mc.Protocol) {
	case "grpc", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if mc.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(mc.Endpoint))
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	case "http":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if mc.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(mc.Endpoint))
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported metrics protocol %q", mc.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}
