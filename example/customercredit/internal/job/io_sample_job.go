// Package job defines ioSampleJob: page through customer_credit, raise every selected credit
// and write it back, one transaction per chunk.
package job

import (
	"fmt"

	"go.uber.org/fx"

	writer "github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	runner "github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	item "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	appConfig "github.com/tigerroll/chunkbatch/example/customercredit/internal/config"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/step/processor"
)

// Components supplies the source and the writer of one run of the job.
type Components interface {
	// Source returns the paged source of customers selected by filter.
	Source(filter port.Filter) (port.PagedSource[entity.CustomerCredit], error)
	// Writer returns the writer persisting transformed customers.
	Writer() port.ChunkWriter[entity.CustomerCredit]
}

// SourceFilter derives the source filter of a run from the configured filter and the job parameters.
// Without a configured field, or when the launch omits the filter parameter, every customer is read.
func SourceFilter(fc coreConfig.FilterConfig, params model.JobParameters) (port.Filter, error) {
	if fc.Field == "" {
		return port.Filter{}, nil
	}
	if _, present := params.Get(fc.Parameter); !present {
		logger.Infof("Job parameter '%s' is absent; reading every customer.", fc.Parameter)
		return port.Filter{}, nil
	}
	value, ok := params.GetDouble(fc.Parameter)
	if !ok {
		return port.Filter{}, fmt.Errorf("job parameter '%s' must be a number", fc.Parameter)
	}
	f := port.Filter{Field: fc.Field, Op: port.FilterOp(fc.Operator), Value: value}
	if err := f.Validate(); err != nil {
		return port.Filter{}, err
	}
	return f, nil
}

// IOSampleJobParams defines the dependencies of NewIOSampleJob.
type IOSampleJobParams struct {
	fx.In
	Cfg        *coreConfig.Config
	Credit     appConfig.CreditConfig
	Components Components
	TxManager  tx.TransactionManager
	Store      repository.ExecutionStateStore
	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
	// Exporter is nil unless export is enabled.
	Exporter       *writer.ParquetExporter[entity.CustomerCredit] `optional:"true"`
	StepListeners  []port.StepExecutionListener                   `group:"stepListeners"`
	ChunkListeners []port.ChunkListener                           `group:"chunkListeners"`
}

// NewIOSampleJob creates the job named by batch.job_name. Each run builds a fresh chunk step
// whose source filter comes from that run's parameters.
func NewIOSampleJob(p IOSampleJobParams) *runner.ChunkJob {
	batch := p.Cfg.ChunkBatch.Batch
	transformer := processor.NewCustomerCreditTransformer(p.Credit)

	newStep := func(params model.JobParameters) (port.Step, error) {
		filter, err := SourceFilter(batch.Filter, params)
		if err != nil {
			return nil, err
		}
		source, err := p.Components.Source(filter)
		if err != nil {
			return nil, err
		}
		w := p.Components.Writer()
		if p.Exporter != nil {
			w = p.Exporter.Wrap(w)
		}
		step, err := item.NewChunkStep(item.ChunkStepConfig[entity.CustomerCredit, entity.CustomerCredit]{
			StepName:       batch.StepName,
			ChunkSize:      batch.ChunkSize,
			PageSize:       batch.PageSize,
			Source:         source,
			Transformer:    transformer,
			Writer:         w,
			TxManager:      p.TxManager,
			Store:          p.Store,
			StepListeners:  p.StepListeners,
			ChunkListeners: p.ChunkListeners,
			MetricRecorder: p.Recorder,
			Tracer:         p.Tracer,
		})
		if err != nil {
			return nil, err
		}
		return step, nil
	}

	validate := func(params model.JobParameters) error {
		_, err := SourceFilter(batch.Filter, params)
		return err
	}

	return runner.NewChunkJob(batch.JobName, batch.StepName, newStep, validate)
}
