package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultExecutionStateStore implements ExecutionStateStore on top of a JobRepository.
//
// Launch bookkeeping runs in one transaction of txManager. Within a process, launches are
// also serialised by a mutex; across processes, the version bump of the job instance row
// makes the second of two concurrent launches fail.
type DefaultExecutionStateStore struct {
	repo      JobRepository
	txManager tx.TransactionManager
	stepName  string
	mu        sync.Mutex
}

// NewExecutionStateStore creates an ExecutionStateStore.
//
// Parameters:
//
//	repo: The repository holding instances, executions and step executions.
//	txManager: The transaction manager of the repository's connection.
//	stepName: The name of the single chunk step created with every execution.
//
// Returns:
//
//	A new DefaultExecutionStateStore.
func NewExecutionStateStore(repo JobRepository, txManager tx.TransactionManager, stepName string) *DefaultExecutionStateStore {
	return &DefaultExecutionStateStore{repo: repo, txManager: txManager, stepName: stepName}
}

// Repository returns the underlying JobRepository.
func (s *DefaultExecutionStateStore) Repository() JobRepository {
	return s.repo
}

// CreateExecution implements ExecutionStateStore.
func (s *DefaultExecutionStateStore) CreateExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var je *model.JobExecution
	err := tx.RunInTx(ctx, s.txManager, func(txCtx context.Context) error {
		var err error
		je, err = s.prepareExecution(txCtx, jobName, params)
		return err
	})
	if err != nil {
		if exception.IsOptimisticLockingFailure(err) {
			hash, _ := params.Hash()
			return nil, exception.NewConcurrentLaunchError(jobName, hash, err)
		}
		return nil, err
	}
	return je, nil
}

// prepareExecution finds or creates the instance, checks the last execution and saves the new one.
func (s *DefaultExecutionStateStore) prepareExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	const op = "ExecutionStateStore.CreateExecution"

	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to calculate JobParameters hash", err)
	}

	instance, err := s.repo.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	switch {
	case errors.Is(err, ErrJobInstanceNotFound):
		instance = model.NewJobInstance(jobName, params)
		if err := s.repo.SaveJobInstance(ctx, instance); err != nil {
			return nil, err
		}
		logger.Infof("Created new JobInstance (ID: %s, JobName: %s).", instance.ID, jobName)
	case err != nil:
		return nil, exception.NewBatchError(op, "failed to search for existing JobInstance", err)
	default:
		// Claims the instance: a concurrent launch holding the same version fails here.
		if err := s.repo.UpdateJobInstance(ctx, instance); err != nil {
			return nil, err
		}
	}

	je := model.NewJobExecution(instance.ID, jobName, instance.Parameters)
	se := model.NewStepExecution(model.NewID(), je, s.stepName)
	je.AddStepExecution(se)

	last, err := s.repo.FindLatestJobExecution(ctx, instance.ID)
	if err != nil && !errors.Is(err, ErrJobExecutionNotFound) {
		return nil, exception.NewBatchError(op, "failed to search for the latest JobExecution", err)
	}
	if last != nil {
		switch {
		case last.Status.IsRunning():
			return nil, exception.NewConcurrentLaunchError(jobName, hash,
				fmt.Errorf("JobExecution (ID: %s) is %s", last.ID, last.Status))
		case last.Status == model.BatchStatusCompleted:
			return nil, exception.NewInstanceAlreadyCompleteError(jobName, hash)
		case last.Status.IsRestartable(), last.Status == model.BatchStatusAbandoned:
			// An execution abandoned by an operator still committed its chunks.
			prev := last.StepExecution(s.stepName)
			se.ResumeFrom(prev)
			je.RestartCount = last.RestartCount + 1

			if last.Status != model.BatchStatusAbandoned {
				last.MarkAsAbandoned()
				if err := s.repo.UpdateJobExecution(ctx, last); err != nil {
					return nil, err
				}
			}
			if prev != nil {
				logger.Infof("Resuming JobInstance (ID: %s) from offset %d. Previous JobExecution (ID: %s) is ABANDONED. Restart count: %d",
					instance.ID, prev.LastCommittedOffset, last.ID, je.RestartCount)
			}
		}
	}

	if err := s.repo.SaveJobExecution(ctx, je); err != nil {
		return nil, err
	}
	if err := s.repo.SaveStepExecution(ctx, se); err != nil {
		return nil, err
	}
	return je, nil
}

// UpdateStep implements ExecutionStateStore.
// It joins the transaction in ctx, or runs in its own when there is none.
func (s *DefaultExecutionStateStore) UpdateStep(ctx context.Context, stepExecution *model.StepExecution) error {
	return tx.RunInTx(ctx, s.txManager, func(txCtx context.Context) error {
		return s.repo.UpdateStepExecution(txCtx, stepExecution)
	})
}

// UpdateJob persists the status of jobExecution in its own transaction.
func (s *DefaultExecutionStateStore) UpdateJob(ctx context.Context, jobExecution *model.JobExecution) error {
	return tx.RunInTx(ctx, s.txManager, func(txCtx context.Context) error {
		return s.repo.UpdateJobExecution(txCtx, jobExecution)
	})
}

// LoadLastExecution implements ExecutionStateStore.
func (s *DefaultExecutionStateStore) LoadLastExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.StepExecution, error) {
	instance, err := s.repo.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if err != nil {
		if errors.Is(err, ErrJobInstanceNotFound) {
			return nil, ErrStepExecutionNotFound
		}
		return nil, err
	}
	last, err := s.repo.FindLatestJobExecution(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, ErrJobExecutionNotFound) {
			return nil, ErrStepExecutionNotFound
		}
		return nil, err
	}
	se := last.StepExecution(s.stepName)
	if se == nil {
		return nil, ErrStepExecutionNotFound
	}
	return se, nil
}

var _ ExecutionStateStore = (*DefaultExecutionStateStore)(nil)
