// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It stores all job-related data in maps within memory, suitable for tests and dry runs
// where persistence is not required.
//
// Writes made inside a MemoryTx are checked immediately and applied when the transaction
// commits, so a rolled back chunk leaves the stored progress untouched.
package inmemory

import (
	"context"
	"sync"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
// Stored values are private copies; finders return copies as well.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	mu             sync.RWMutex // Mutex to protect concurrent access to maps.
}

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
	}
}

// check runs fn under the read lock.
func (r *InMemoryJobRepository) check(fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn()
}

// apply runs fn under the write lock once the transaction in ctx commits.
func (r *InMemoryJobRepository) apply(ctx context.Context, fn func()) {
	tx.AfterCommit(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		fn()
	})
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

func cloneJobInstance(ji *model.JobInstance) *model.JobInstance {
	cp := *ji
	return &cp
}

// cloneJobExecution copies je without its step executions.
func cloneJobExecution(je *model.JobExecution) *model.JobExecution {
	cp := *je
	cp.Failures = append(model.FailureList(nil), je.Failures...)
	cp.StepExecutions = make([]*model.StepExecution, 0)
	if je.EndTime != nil {
		end := *je.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// cloneStepExecution copies se without the back reference to its job execution.
func cloneStepExecution(se *model.StepExecution) *model.StepExecution {
	cp := se.Snapshot()
	cp.JobExecution = nil
	if se.EndTime != nil {
		end := *se.EndTime
		cp.EndTime = &end
	}
	return cp
}
