package sql

import (
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	if ji == nil {
		return nil
	}
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}
}

func toDomainJobInstance(entity *JobInstanceEntity) *model.JobInstance {
	if entity == nil {
		return nil
	}
	return &model.JobInstance{
		ID:             entity.ID,
		JobName:        entity.JobName,
		Parameters:     entity.Parameters,
		ParametersHash: entity.ParametersHash,
		CreateTime:     entity.CreateTime,
		Version:        entity.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	if je == nil {
		return nil
	}
	return &JobExecutionEntity{
		ID:            je.ID,
		JobInstanceID: je.JobInstanceID,
		JobName:       je.JobName,
		Parameters:    je.Parameters,
		Status:        je.Status,
		ExitStatus:    je.ExitStatus,
		StartTime:     je.StartTime,
		EndTime:       je.EndTime,
		CreateTime:    je.CreateTime,
		LastUpdated:   je.LastUpdated,
		Failures:      je.Failures,
		RestartCount:  je.RestartCount,
		Version:       je.Version,
	}
}

// toDomainJobExecution leaves StepExecutions empty; the repository attaches them.
func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	if entity == nil {
		return nil
	}
	return &model.JobExecution{
		ID:             entity.ID,
		JobInstanceID:  entity.JobInstanceID,
		JobName:        entity.JobName,
		Parameters:     entity.Parameters,
		Status:         entity.Status,
		ExitStatus:     entity.ExitStatus,
		StartTime:      entity.StartTime,
		EndTime:        entity.EndTime,
		CreateTime:     entity.CreateTime,
		LastUpdated:    entity.LastUpdated,
		Failures:       entity.Failures,
		RestartCount:   entity.RestartCount,
		Version:        entity.Version,
		StepExecutions: make([]*model.StepExecution, 0),
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	if se == nil {
		return nil
	}
	return &StepExecutionEntity{
		ID:                  se.ID,
		StepName:            se.StepName,
		JobExecutionID:      se.JobExecutionID,
		Status:              se.Status,
		ExitStatus:          se.ExitStatus,
		StartTime:           se.StartTime,
		EndTime:             se.EndTime,
		ReadCount:           se.ReadCount,
		WriteCount:          se.WriteCount,
		CommitCount:         se.CommitCount,
		RollbackCount:       se.RollbackCount,
		FilterCount:         se.FilterCount,
		LastCommittedOffset: se.LastCommittedOffset,
		ExecutionContext:    se.ExecutionContext,
		Failures:            se.Failures,
		LastUpdated:         se.LastUpdated,
		Version:             se.Version,
	}
}

// toDomainStepExecution leaves JobExecution nil; it is hydrated by the caller.
func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	if entity == nil {
		return nil
	}
	ec := entity.ExecutionContext
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	return &model.StepExecution{
		ID:                  entity.ID,
		StepName:            entity.StepName,
		JobExecutionID:      entity.JobExecutionID,
		Status:              entity.Status,
		ExitStatus:          entity.ExitStatus,
		StartTime:           entity.StartTime,
		EndTime:             entity.EndTime,
		ReadCount:           entity.ReadCount,
		WriteCount:          entity.WriteCount,
		CommitCount:         entity.CommitCount,
		RollbackCount:       entity.RollbackCount,
		FilterCount:         entity.FilterCount,
		LastCommittedOffset: entity.LastCommittedOffset,
		ExecutionContext:    ec,
		Failures:            entity.Failures,
		LastUpdated:         entity.LastUpdated,
		Version:             entity.Version,
	}
}
