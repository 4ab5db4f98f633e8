package job

import (
	"go.uber.org/fx"

	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
)

// Module registers ioSampleJob with the job registry.
var Module = fx.Options(
	fx.Provide(usecase.AsJob(NewIOSampleJob)),
)

// SQLModule provides the database-backed components and the parquet exporter.
var SQLModule = fx.Options(
	fx.Provide(fx.Annotate(NewSQLComponents, fx.As(new(Components)))),
	fx.Provide(NewCustomerCreditExporter),
)

// MemoryModule provides the in-memory components of a dry run.
var MemoryModule = fx.Options(
	fx.Provide(NewMemorySink),
	fx.Provide(fx.Annotate(NewMemoryComponents, fx.As(new(Components)))),
)
