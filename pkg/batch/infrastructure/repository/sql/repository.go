package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// latestFirst orders the executions of one instance. RestartCount grows with every
// restart, so it breaks ties between executions created within the same clock tick.
const latestFirst = "restart_count desc, create_time desc"

// SQLJobRepository implements the repository.JobRepository interface.
type SQLJobRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the name of the database connection used by this JobRepository (e.g., "default").
	dbName string
}

// NewSQLJobRepository creates a new instance of SQLJobRepository.
//
// Parameters:
//
//	dbResolver: The database connection resolver.
//	dbName: The name of the database connection to be used by this repository (e.g., "default").
//
// Returns:
//
//	A new instance of SQLJobRepository.
func NewSQLJobRepository(dbResolver database.DBConnectionResolver, dbName string) *SQLJobRepository {
	return &SQLJobRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// getDBConnection resolves the DBConnection used by the repository.
func (r *SQLJobRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("repository", fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err)
	}
	return conn, nil
}

// getTxExecutor returns the transaction carried by ctx, or the DBConnection when there is none.
// Reads go through it as well, so a read inside a chunk transaction sees the chunk's own writes
// and does not wait for a second pooled connection.
func (r *SQLJobRepository) getTxExecutor(ctx context.Context) (tx.TxExecutor, error) {
	if t, ok := tx.TxFromContext(ctx); ok {
		return t, nil
	}
	return r.getDBConnection(ctx)
}

// writeError classifies a failed INSERT or UPDATE.
// A duplicate key means another launch created the same row first.
func writeError(op, message string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return exception.NewOptimisticLockingFailureException("repository", message, err)
	}
	return exception.NewBatchError(op, message, err)
}

// updateVersioned runs an UPDATE of entity guarded by originalVersion.
func (r *SQLJobRepository) updateVersioned(ctx context.Context, op, what string, entity interface{ TableName() string }, originalVersion int) error {
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	rowsAffected, err := executor.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(),
		map[string]interface{}{"version": originalVersion})
	if err != nil {
		return writeError(op, fmt.Sprintf("failed to update %s", what), err)
	}
	if rowsAffected == 0 {
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("%s with version %d not found for update", what, originalVersion), nil)
	}
	return nil
}

// --- JobInstance implementation ---

func (r *SQLJobRepository) SaveJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "SQLJobRepository.SaveJobInstance"
	entity := fromDomainJobInstance(instance)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return writeError(op, fmt.Sprintf("failed to save JobInstance (ID: %s)", instance.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobInstance(ctx context.Context, instance *model.JobInstance) error {
	const op = "SQLJobRepository.UpdateJobInstance"

	originalVersion := instance.Version
	instance.Version++
	err := r.updateVersioned(ctx, op, fmt.Sprintf("JobInstance (ID: %s)", instance.ID), fromDomainJobInstance(instance), originalVersion)
	if err != nil {
		instance.Version = originalVersion
	}
	return err
}

func (r *SQLJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByJobNameAndParameters"
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to calculate JobParameters hash", err)
	}

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, err
	}

	var entities []JobInstanceEntity
	err = executor.ExecuteQuery(ctx, &entities, map[string]interface{}{"job_name": jobName, "parameters_hash": hash})
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, exception.NewBatchError(op, "failed to find JobInstance", err)
	}

	for i := range entities {
		instance := toDomainJobInstance(&entities[i])
		if instance.Parameters.Equal(params) {
			return instance, nil
		}
		logger.Warnf("%s: JobInstance (ID: %s) hash matched but parameters mismatched. Possible hash collision.", op, instance.ID)
	}
	return nil, repository.ErrJobInstanceNotFound
}

func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	const op = "SQLJobRepository.FindJobInstanceByID"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, err
	}

	var entity JobInstanceEntity
	if err := executor.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": id}, "", 1); err != nil {
		if executor.IsTableNotExistError(err) {
			return nil, repository.ErrJobInstanceNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find JobInstance by ID: %s", id), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobInstanceNotFound
	}
	return toDomainJobInstance(&entity), nil
}

// --- JobExecution implementation ---

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	entity := fromDomainJobExecution(jobExecution)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return writeError(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", jobExecution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"

	originalVersion := jobExecution.Version
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	err := r.updateVersioned(ctx, op, fmt.Sprintf("JobExecution (ID: %s)", jobExecution.ID), fromDomainJobExecution(jobExecution), originalVersion)
	if err != nil {
		jobExecution.Version = originalVersion
	}
	return err
}

func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionByID"
	return r.findOneJobExecution(ctx, op, map[string]interface{}{"id": executionID}, "")
}

func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindLatestJobExecution"
	return r.findOneJobExecution(ctx, op, map[string]interface{}{"job_instance_id": jobInstanceID}, latestFirst)
}

// findOneJobExecution loads the first JobExecution matching query together with its StepExecutions.
func (r *SQLJobRepository) findOneJobExecution(ctx context.Context, op string, query map[string]interface{}, orderBy string) (*model.JobExecution, error) {
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, err
	}

	var entity JobExecutionEntity
	if err := executor.ExecuteQueryAdvanced(ctx, &entity, query, orderBy, 1); err != nil {
		if executor.IsTableNotExistError(err) {
			return nil, repository.ErrJobExecutionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find JobExecution (%v)", query), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobExecutionNotFound
	}

	je := toDomainJobExecution(&entity)
	stepExecutions, err := r.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	for _, se := range stepExecutions {
		je.AddStepExecution(se)
	}
	return je, nil
}

func (r *SQLJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionsByJobInstance"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, err
	}

	var entities []JobExecutionEntity
	err = executor.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_instance_id": jobInstance.ID}, latestFirst, 0)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return []*model.JobExecution{}, nil
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find JobExecutions for JobInstance ID: %s", jobInstance.ID), err)
	}

	executions := make([]*model.JobExecution, len(entities))
	for i := range entities {
		executions[i] = toDomainJobExecution(&entities[i])
	}
	// StepExecutions are not loaded here to avoid N+1 queries.
	return executions, nil
}

// --- StepExecution implementation ---

func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	entity := fromDomainStepExecution(stepExecution)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}
	if _, err := executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil); err != nil {
		return writeError(op, fmt.Sprintf("failed to save StepExecution (ID: %s)", stepExecution.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.UpdateStepExecution"

	originalVersion := stepExecution.Version
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	err := r.updateVersioned(ctx, op, fmt.Sprintf("StepExecution (ID: %s)", stepExecution.ID), fromDomainStepExecution(stepExecution), originalVersion)
	if err != nil {
		stepExecution.Version = originalVersion
	}
	return err
}

func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionByID"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, err
	}

	var entity StepExecutionEntity
	if err := executor.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": executionID}, "", 1); err != nil {
		if executor.IsTableNotExistError(err) {
			return nil, repository.ErrStepExecutionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find StepExecution by ID: %s", executionID), err)
	}
	if entity.ID == "" {
		return nil, repository.ErrStepExecutionNotFound
	}
	return toDomainStepExecution(&entity), nil
}

// FindStepExecutionsByJobExecutionID retrieves all StepExecutions associated with a JobExecution.
func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionsByJobExecutionID"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return nil, err
	}

	var entities []StepExecutionEntity
	err = executor.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_execution_id": jobExecutionID}, "start_time asc", 0)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return []*model.StepExecution{}, nil
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find StepExecutions by JobExecution ID: %s", jobExecutionID), err)
	}

	executions := make([]*model.StepExecution, len(entities))
	for i := range entities {
		executions[i] = toDomainStepExecution(&entities[i])
	}
	return executions, nil
}

// Close implements repository.JobRepository.
// The connection belongs to its DBProvider and is closed with the fx lifecycle.
func (r *SQLJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// JobRepositoryParams defines the dependencies of NewJobRepository.
type JobRepositoryParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Cfg        *config.Config
}

// NewJobRepository creates the SQL JobRepository on the configured job repository connection.
func NewJobRepository(p JobRepositoryParams) repository.JobRepository {
	return NewSQLJobRepository(p.DBResolver, p.Cfg.ChunkBatch.Infrastructure.JobRepositoryDBRef)
}

// TransactionManagerParams defines the dependencies of NewTransactionManager.
type TransactionManagerParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Factory    tx.TransactionManagerFactory
	Cfg        *config.Config
}

// NewTransactionManager creates the transaction manager of the job repository connection.
// The connection is resolved eagerly so that a misconfigured database fails the start.
func NewTransactionManager(p TransactionManagerParams) (tx.TransactionManager, error) {
	dbName := p.Cfg.ChunkBatch.Infrastructure.JobRepositoryDBRef
	conn, err := p.DBResolver.ResolveDBConnection(context.Background(), dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve job repository connection '%s': %w", dbName, err)
	}
	logger.Debugf("Job repository uses DB connection '%s' (%s).", dbName, conn.Type())
	return p.Factory.NewTransactionManager(conn), nil
}

// NewExecutionStateStore creates the ExecutionStateStore of the configured step.
func NewExecutionStateStore(repo repository.JobRepository, txManager tx.TransactionManager, cfg *config.Config) *repository.DefaultExecutionStateStore {
	return repository.NewExecutionStateStore(repo, txManager, cfg.ChunkBatch.Batch.StepName)
}
