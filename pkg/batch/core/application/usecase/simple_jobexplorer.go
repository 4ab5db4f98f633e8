package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleJobExplorer is a simple implementation of the JobExplorer interface.
// It queries batch metadata using a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
	registry      *JobRegistry
}

// Verify that SimpleJobExplorer implements the JobExplorer interface.
var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository, registry *JobRegistry) *SimpleJobExplorer {
	return &SimpleJobExplorer{
		jobRepository: jobRepository,
		registry:      registry,
	}
}

// GetJobExecution retrieves a JobExecution by its ID.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecution method called. Execution ID: %s", executionID)
	jobExecution, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err)
	}
	return jobExecution, nil
}

// GetJobExecutions retrieves all JobExecutions associated with the specified JobInstance, latest first.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecutions method called. Instance ID: %s", instanceID)

	jobInstance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance (ID: %s)", instanceID), err)
	}

	jobExecutions, err := e.jobRepository.FindJobExecutionsByJobInstance(ctx, jobInstance)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecutions associated with JobInstance (ID: %s)", instanceID), err)
	}

	logger.Debugf("Retrieved %d JobExecutions associated with JobInstance (ID: %s).", len(jobExecutions), instanceID)
	return jobExecutions, nil
}

// GetLastJobExecution retrieves the latest JobExecution for a given JobInstance.
func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetLastJobExecution method called. Instance ID: %s", instanceID)

	jobExecution, err := e.jobRepository.FindLatestJobExecution(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve the latest JobExecution for JobInstance (ID: %s)", instanceID), err)
	}
	return jobExecution, nil
}

// GetJobInstance retrieves a JobInstance by its ID.
func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	logger.Debugf("JobExplorer: GetJobInstance method called. Instance ID: %s", instanceID)
	jobInstance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance (ID: %s)", instanceID), err)
	}
	return jobInstance, nil
}

// FindJobInstance finds the JobInstance of the specified job name and parameters.
func (e *SimpleJobExplorer) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	logger.Debugf("JobExplorer: FindJobInstance method called. Job Name: %s, Parameters: %s", jobName, params.String())
	jobInstance, err := e.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to search for JobInstance (JobName: %s)", jobName), err)
	}
	return jobInstance, nil
}

// GetJobNames retrieves all registered job names.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	return e.registry.JobNames(), nil
}

// GetParameters retrieves the JobParameters for the specified JobExecution.
func (e *SimpleJobExplorer) GetParameters(ctx context.Context, executionID string) (model.JobParameters, error) {
	logger.Debugf("JobExplorer: GetParameters method called. Execution ID: %s", executionID)

	jobExecution, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return model.NewJobParameters(), exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err)
	}
	return jobExecution.Parameters, nil
}
