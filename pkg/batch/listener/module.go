package listener

import (
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/logging"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener/metrics"

	"go.uber.org/fx"
)

// Module aggregates all listener modules of the batch framework.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
)
