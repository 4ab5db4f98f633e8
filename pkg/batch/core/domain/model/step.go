package model

import (
	"fmt"
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// StepExecution tracks one run of a chunk step.
// It is mutated after every chunk commit and is terminal once COMPLETED, FAILED or STOPPED.
type StepExecution struct {
	ID             string
	StepName       string
	JobExecutionID string
	JobExecution   *JobExecution `gorm:"-"`
	Status         JobStatus
	ExitStatus     ExitStatus
	StartTime      time.Time
	EndTime        *time.Time
	ReadCount      int
	WriteCount     int
	CommitCount    int
	RollbackCount  int
	FilterCount    int
	// LastCommittedOffset is the number of source records consumed by committed chunks. It is the
	// only resume position; ExecutionContext carries application state and never an offset.
	// The next chunk reads from this position.
	LastCommittedOffset int64
	ExecutionContext    ExecutionContext
	Failures            FailureList
	LastUpdated         time.Time
	Version             int
}

// NewStepExecution creates a new StepExecution in STARTING status.
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               id,
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		StartTime:        now,
		ExecutionContext: NewExecutionContext(),
		Failures:         make(FailureList, 0),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecution = jobExecution
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

// ResumeFrom carries the committed progress of prev into se: offset, counters and execution context.
// Counts therefore accumulate across restarts of the same job instance.
func (se *StepExecution) ResumeFrom(prev *StepExecution) {
	if prev == nil {
		return
	}
	se.LastCommittedOffset = prev.LastCommittedOffset
	se.ReadCount = prev.ReadCount
	se.WriteCount = prev.WriteCount
	se.CommitCount = prev.CommitCount
	se.RollbackCount = prev.RollbackCount
	se.FilterCount = prev.FilterCount
	se.ExecutionContext = prev.ExecutionContext.Copy()
}

// TransitionTo moves the StepExecution to newStatus if the transition is allowed.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

// MarkAsStarted updates the StepExecution status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	if err := se.TransitionTo(BatchStatusStarted); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to STARTED: %v", se.ID, err)
		return
	}
	se.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted updates the StepExecution status to COMPLETED.
// A step that read nothing exits with NOOP.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted)
	if se.Status == BatchStatusCompleted && se.ReadCount == 0 {
		se.ExitStatus = ExitStatusNoOp
	}
}

// MarkAsFailed updates the StepExecution status to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed)
	se.AddFailureException(err)
}

// MarkAsStopped updates the StepExecution status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped)
}

func (se *StepExecution) finish(status JobStatus) {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, status, err)
		return
	}
	se.ExitStatus = status.ToExitStatus()
	now := time.Now()
	se.EndTime = &now
}

// AddFailureException adds error information to StepExecution. Duplicate messages are ignored.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range se.Failures {
		if existing == errMsg {
			return
		}
	}
	se.Failures = append(se.Failures, errMsg)
	se.LastUpdated = time.Now()
}

// Snapshot returns a copy of se that does not share the execution context or failures.
// The orchestrator applies chunk progress to a snapshot and adopts it only after commit.
func (se *StepExecution) Snapshot() *StepExecution {
	cp := *se
	cp.ExecutionContext = se.ExecutionContext.Copy()
	cp.Failures = append(FailureList(nil), se.Failures...)
	return &cp
}

// DebugString returns a compact representation of the counters, excluding ExecutionContext details.
func (se *StepExecution) DebugString() string {
	return fmt.Sprintf(
		"&{ID:%s StepName:%s Status:%s ExitStatus:%s ReadCount:%d WriteCount:%d FilterCount:%d CommitCount:%d RollbackCount:%d Offset:%d Version:%d}",
		se.ID, se.StepName, se.Status, se.ExitStatus,
		se.ReadCount, se.WriteCount, se.FilterCount, se.CommitCount, se.RollbackCount,
		se.LastCommittedOffset, se.Version,
	)
}
