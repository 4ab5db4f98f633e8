// Package runner provides the port.Job implementation that runs a single chunk step.
package runner

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// StepFactory builds the step for one run of a job. It receives the run's parameters, so
// sources can derive their filter from them.
type StepFactory func(params model.JobParameters) (port.Step, error)

// ParametersValidator checks job parameters before an execution is created.
type ParametersValidator func(params model.JobParameters) error

// ChunkJob is a job made of one chunk step.
// A fresh step is built for every run, since a step executes only once.
type ChunkJob struct {
	name      string
	stepName  string
	newStep   StepFactory
	validator ParametersValidator
}

// NewChunkJob creates a ChunkJob.
//
// Parameters:
//   name: The job name.
//   stepName: The name of the step execution the job runs.
//   newStep: Builds the step of each run.
//   validator: Validates job parameters. nil accepts any parameters.
//
// Returns:
//   A new ChunkJob.
func NewChunkJob(name, stepName string, newStep StepFactory, validator ParametersValidator) *ChunkJob {
	return &ChunkJob{
		name:      name,
		stepName:  stepName,
		newStep:   newStep,
		validator: validator,
	}
}

// JobName implements port.Job.
func (j *ChunkJob) JobName() string {
	return j.name
}

// ValidateParameters implements port.Job.
func (j *ChunkJob) ValidateParameters(params model.JobParameters) error {
	if j.validator == nil {
		return nil
	}
	return j.validator(params)
}

// Run implements port.Job. It executes the step on the step execution named stepName.
func (j *ChunkJob) Run(ctx context.Context, jobExecution *model.JobExecution, stop port.StopSignal) error {
	stepExecution := jobExecution.StepExecution(j.stepName)
	if stepExecution == nil {
		return fmt.Errorf("job '%s': JobExecution (ID: %s) has no execution of step '%s'", j.name, jobExecution.ID, j.stepName)
	}

	step, err := j.newStep(jobExecution.Parameters)
	if err != nil {
		return fmt.Errorf("job '%s': failed to build step '%s': %w", j.name, j.stepName, err)
	}
	if step.StepName() != j.stepName {
		return fmt.Errorf("job '%s': step factory built step '%s', expected '%s'", j.name, step.StepName(), j.stepName)
	}

	logger.Debugf("Job '%s': executing step '%s' (StepExecution ID: %s).", j.name, j.stepName, stepExecution.ID)
	return step.Execute(port.GetContextWithStepExecution(ctx, stepExecution), stepExecution, stop)
}

var _ port.Job = (*ChunkJob)(nil)
