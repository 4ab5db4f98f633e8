package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// ErrJobInstanceNotFound is returned when JobInstance is not found.
var ErrJobInstanceNotFound = errors.New("job instance not found")

// JobInstance defines operations for persisting and retrieving job instance metadata.
type JobInstance interface {
	// SaveJobInstance persists a new JobInstance.
	SaveJobInstance(ctx context.Context, instance *model.JobInstance) error

	// UpdateJobInstance updates an existing JobInstance, bumping its version.
	// A concurrent update returns exception.ErrOptimisticLockingFailure.
	UpdateJobInstance(ctx context.Context, instance *model.JobInstance) error

	// FindJobInstanceByID finds a JobInstance by its ID.
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)

	// FindJobInstanceByJobNameAndParameters finds a JobInstance by job name and exact parameters.
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
}
