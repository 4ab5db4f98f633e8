package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// NewTelemetryProvider builds Telemetry and flushes it when the application stops.
func NewTelemetryProvider(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

// Module is an Fx module that provides the configured MetricRecorder, Tracer and MetricsServer.
var Module = fx.Options(
	fx.Provide(NewTelemetryProvider),
	fx.Provide(func(t *Telemetry) metrics.MetricRecorder { return t.Recorder }),
	fx.Provide(func(t *Telemetry) metrics.Tracer { return t.Tracer }),
	fx.Provide(func(t *Telemetry) *MetricsServer { return t.Server }),
)
