package sql

import (
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobInstanceEntity is a schema model used for persistence.
type JobInstanceEntity struct {
	ID             string
	JobName        string
	Parameters     model.JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is a schema model used for persistence.
// Step executions live in their own table and are loaded separately.
type JobExecutionEntity struct {
	ID            string
	JobInstanceID string
	JobName       string
	Parameters    model.JobParameters
	Status        model.JobStatus
	ExitStatus    model.ExitStatus
	StartTime     time.Time
	EndTime       *time.Time
	CreateTime    time.Time
	LastUpdated   time.Time
	Failures      model.FailureList
	RestartCount  int
	Version       int
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is a schema model used for persistence.
type StepExecutionEntity struct {
	ID                  string
	StepName            string
	JobExecutionID      string
	Status              model.JobStatus
	ExitStatus          model.ExitStatus
	StartTime           time.Time
	EndTime             *time.Time
	ReadCount           int
	WriteCount          int
	CommitCount         int
	RollbackCount       int
	FilterCount         int
	LastCommittedOffset int64
	ExecutionContext    model.ExecutionContext
	Failures            model.FailureList
	LastUpdated         time.Time
	Version             int
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}
