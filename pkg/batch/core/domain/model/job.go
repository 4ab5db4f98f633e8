package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// JobInstance is the logical identity of a job: job name plus parameter fingerprint.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// JobExecution is a single launch of a job instance.
type JobExecution struct {
	ID             string
	JobInstanceID  string
	JobName        string
	Parameters     JobParameters
	Status         JobStatus
	ExitStatus     ExitStatus
	StartTime      time.Time
	EndTime        *time.Time
	CreateTime     time.Time
	LastUpdated    time.Time
	Failures       FailureList
	StepExecutions []*StepExecution
	RestartCount   int
	Version        int
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// NewJobInstance creates a new instance of JobInstance.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	hash, err := params.Hash()
	if err != nil {
		logger.Errorf("Failed to calculate JobParameters hash: %v", err)
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}
}

// NewJobExecution creates a new JobExecution in STARTING status.
func NewJobExecution(jobInstanceID string, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:             NewID(),
		JobInstanceID:  jobInstanceID,
		JobName:        jobName,
		Parameters:     params,
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		StartTime:      now,
		CreateTime:     now,
		LastUpdated:    now,
		Failures:       make(FailureList, 0),
		StepExecutions: make([]*StepExecution, 0),
	}
}

// TransitionTo moves the JobExecution to newStatus if the transition is allowed.
// Fields other than Status must be set by the caller.
func (je *JobExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidJobTransition(je.Status, newStatus) {
		return fmt.Errorf("JobExecution (ID: %s): invalid state transition: %s -> %s", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

// MarkAsStarted updates the JobExecution status to STARTED.
func (je *JobExecution) MarkAsStarted() {
	if err := je.TransitionTo(BatchStatusStarted); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to STARTED: %v", je.ID, err)
		return
	}
	je.ExitStatus = ExitStatusExecuting
}

// MarkAsStopping records a stop request. The step observes it at the next chunk boundary.
func (je *JobExecution) MarkAsStopping() error {
	return je.TransitionTo(BatchStatusStopping)
}

// MarkAsCompleted sets COMPLETED, provided every step execution completed.
// If a step did not complete, the job is marked FAILED instead.
func (je *JobExecution) MarkAsCompleted() {
	for _, se := range je.StepExecutions {
		if se.Status != BatchStatusCompleted {
			je.MarkAsFailed(fmt.Errorf("step '%s' finished with status %s", se.StepName, se.Status))
			return
		}
	}
	je.finish(BatchStatusCompleted)
}

// MarkAsFailed updates the JobExecution status to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed)
	je.AddFailureException(err)
}

// MarkAsStopped updates the JobExecution status to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped)
}

// MarkAsAbandoned marks an execution as superseded by a restart, or as given up by an operator
// after its process died.
func (je *JobExecution) MarkAsAbandoned() {
	je.finish(BatchStatusAbandoned)
}

func (je *JobExecution) finish(status JobStatus) {
	if err := je.TransitionTo(status); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to %s: %v", je.ID, status, err)
		return
	}
	je.ExitStatus = status.ToExitStatus()
	now := time.Now()
	je.EndTime = &now
}

// AddFailureException adds error information to JobExecution. Duplicate messages are ignored.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range je.Failures {
		if existing == errMsg {
			return
		}
	}
	je.Failures = append(je.Failures, errMsg)
	je.LastUpdated = time.Now()
}

// AddStepExecution attaches a StepExecution to JobExecution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// StepExecution returns the step execution named stepName, or nil.
func (je *JobExecution) StepExecution(stepName string) *StepExecution {
	for _, se := range je.StepExecutions {
		if se.StepName == stepName {
			return se
		}
	}
	return nil
}
