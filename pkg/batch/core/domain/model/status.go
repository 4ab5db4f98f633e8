package model

// JobStatus represents the state of a job or step execution.
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusStopping  JobStatus = "STOPPING"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusAbandoned JobStatus = "ABANDONED"
	BatchStatusUnknown   JobStatus = "UNKNOWN"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished checks if the JobStatus represents a finished state.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRunning reports whether an execution in this status blocks a new launch of the same instance.
func (s JobStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return true
	default:
		return false
	}
}

// IsRestartable reports whether a new execution may resume from an execution in this status.
func (s JobStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus converts the JobStatus to its corresponding ExitStatus.
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus represents the detailed status upon job/step completion.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NOOP"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

// isValidJobTransition checks if the state transition for JobExecution is valid.
func isValidJobTransition(current, next JobStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		// ABANDONED: the owning process died without recording an outcome.
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusAbandoned
	case BatchStatusStopping:
		// The last chunk may finish the source before the stop request is observed.
		return next == BatchStatusStopped || next == BatchStatusFailed || next == BatchStatusCompleted || next == BatchStatusAbandoned
	case BatchStatusStopped, BatchStatusFailed:
		// Superseded by a restart.
		return next == BatchStatusAbandoned
	default:
		return false
	}
}

// isValidStepTransition checks if the state transition for StepExecution is valid.
func isValidStepTransition(current, next JobStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	default:
		return false
	}
}
