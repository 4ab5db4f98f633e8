package inmemory

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SaveJobInstance persists a new JobInstance.
// An instance with the same ID, or with the same job name and parameters, is rejected
// as an optimistic locking failure, as the unique index of the SQL schema does.
func (r *InMemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *model.JobInstance) error {
	err := r.check(func() error {
		if _, exists := r.jobInstances[jobInstance.ID]; exists {
			return fmt.Errorf("JobInstance with ID %s already exists", jobInstance.ID)
		}
		for _, ji := range r.jobInstances {
			if ji.JobName == jobInstance.JobName && ji.ParametersHash == jobInstance.ParametersHash {
				return exception.NewOptimisticLockingFailureException("repository",
					fmt.Sprintf("JobInstance for job '%s' (parameters %s) already exists", ji.JobName, ji.ParametersHash), nil)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	stored := cloneJobInstance(jobInstance)
	r.apply(ctx, func() { r.jobInstances[stored.ID] = stored })
	return nil
}

// UpdateJobInstance bumps the version of an existing JobInstance.
func (r *InMemoryJobRepository) UpdateJobInstance(ctx context.Context, jobInstance *model.JobInstance) error {
	err := r.check(func() error {
		current, exists := r.jobInstances[jobInstance.ID]
		if !exists || current.Version != jobInstance.Version {
			return exception.NewOptimisticLockingFailureException("repository",
				fmt.Sprintf("JobInstance (ID: %s) with version %d not found for update", jobInstance.ID, jobInstance.Version), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	jobInstance.Version++
	stored := cloneJobInstance(jobInstance)
	r.apply(ctx, func() { r.jobInstances[stored.ID] = stored })
	return nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobInstance, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	return cloneJobInstance(jobInstance), nil
}

// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and exact parameters.
func (r *InMemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.Parameters.Equal(params) {
			return cloneJobInstance(ji), nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}
