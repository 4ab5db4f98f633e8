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

// SaveStepExecution persists a new StepExecution.
// It returns an error if a StepExecution with the same ID already exists.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	err := r.check(func() error {
		if _, exists := r.stepExecutions[stepExecution.ID]; exists {
			return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stored := cloneStepExecution(stepExecution)
	r.apply(ctx, func() { r.stepExecutions[stored.ID] = stored })
	return nil
}

// UpdateStepExecution updates an existing StepExecution (version-checked).
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	err := r.check(func() error {
		current, exists := r.stepExecutions[stepExecution.ID]
		if !exists || current.Version != stepExecution.Version {
			return exception.NewOptimisticLockingFailureException("repository",
				fmt.Sprintf("StepExecution (ID: %s) with version %d not found for update", stepExecution.ID, stepExecution.Version), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	stored := cloneStepExecution(stepExecution)
	r.apply(ctx, func() { r.stepExecutions[stored.ID] = stored })
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stepExecution, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return cloneStepExecution(stepExecution), nil
}

// FindStepExecutionsByJobExecutionID finds the StepExecutions of a JobExecution in start order.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	return steps, nil
}
