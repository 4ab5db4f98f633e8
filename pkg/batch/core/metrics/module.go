package metrics

import (
	"go.uber.org/fx"
)

// NoOpModule provides the no-op MetricRecorder and Tracer.
// Applications that export telemetry use infrastructure/metrics.Module instead.
var NoOpModule = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
