package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SaveJobExecution persists a new JobExecution.
// It returns an error if a JobExecution with the same ID already exists.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	err := r.check(func() error {
		if _, exists := r.jobExecutions[jobExecution.ID]; exists {
			return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stored := cloneJobExecution(jobExecution)
	r.apply(ctx, func() { r.jobExecutions[stored.ID] = stored })
	return nil
}

// UpdateJobExecution updates an existing JobExecution (version-checked).
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	err := r.check(func() error {
		current, exists := r.jobExecutions[jobExecution.ID]
		if !exists || current.Version != jobExecution.Version {
			return exception.NewOptimisticLockingFailureException("repository",
				fmt.Sprintf("JobExecution (ID: %s) with version %d not found for update", jobExecution.ID, jobExecution.Version), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	stored := cloneJobExecution(jobExecution)
	r.apply(ctx, func() { r.jobExecutions[stored.ID] = stored })
	return nil
}

// FindJobExecutionByID finds a JobExecution by its ID, with its StepExecutions.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobExecution, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(jobExecution), nil
}

// FindLatestJobExecution finds the latest JobExecution of a JobInstance, with its StepExecutions.
func (r *InMemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstanceID && (latest == nil || isLater(je, latest)) {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(latest), nil
}

// FindJobExecutionsByJobInstance finds all JobExecutions of the JobInstance, latest first.
func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == jobInstance.ID {
			executions = append(executions, cloneJobExecution(je))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return isLater(executions[i], executions[j])
	})
	return executions, nil
}

// isLater orders executions of one instance by restart count, then creation time.
func isLater(a, b *model.JobExecution) bool {
	if a.RestartCount != b.RestartCount {
		return a.RestartCount > b.RestartCount
	}
	return a.CreateTime.After(b.CreateTime)
}

// withSteps returns a copy of je with copies of its StepExecutions in start order.
// The caller holds the read lock.
func (r *InMemoryJobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	cloned := cloneJobExecution(je)
	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == je.ID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	for _, se := range steps {
		cloned.AddStepExecution(se)
	}
	return cloned
}
