// Package exception provides the error types of the chunkbatch framework.
// Every failure raised by the engine is a *BatchError carrying the module it
// came from and an ErrorKind, so callers can classify it with errors.Is against
// the sentinel values declared here.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorKind classifies a BatchError.
type ErrorKind string

const (
	// KindUnknown is used for errors that do not fall in any specific category.
	KindUnknown ErrorKind = ""
	// KindSource marks a failure while fetching a page from the source.
	KindSource ErrorKind = "SourceError"
	// KindTransform marks a domain violation raised by a record transformer.
	KindTransform ErrorKind = "TransformError"
	// KindWrite marks a failure while persisting a chunk.
	KindWrite ErrorKind = "WriteError"
	// KindConcurrentLaunch marks a launch rejected because the same job instance is running.
	KindConcurrentLaunch ErrorKind = "ConcurrentLaunchError"
	// KindRestartMismatch marks a restart requested with parameters that differ from the original execution.
	KindRestartMismatch ErrorKind = "RestartMismatchError"
	// KindOptimisticLocking marks a version conflict on a repository update.
	KindOptimisticLocking ErrorKind = "OptimisticLockingFailureException"
	// KindInstanceComplete marks a launch of a job instance whose last execution already completed.
	KindInstanceComplete ErrorKind = "JobInstanceAlreadyCompleteException"
)

// Sentinel values matched by errors.Is against any BatchError of the same kind.
var (
	ErrSource                   = errors.New(string(KindSource))
	ErrTransform                = errors.New(string(KindTransform))
	ErrWrite                    = errors.New(string(KindWrite))
	ErrConcurrentLaunch         = errors.New(string(KindConcurrentLaunch))
	ErrRestartMismatch          = errors.New(string(KindRestartMismatch))
	ErrOptimisticLockingFailure = errors.New(string(KindOptimisticLocking))
	ErrInstanceAlreadyComplete  = errors.New(string(KindInstanceComplete))
)

var kindSentinels = map[ErrorKind]error{
	KindSource:            ErrSource,
	KindTransform:         ErrTransform,
	KindWrite:             ErrWrite,
	KindConcurrentLaunch:  ErrConcurrentLaunch,
	KindRestartMismatch:   ErrRestartMismatch,
	KindOptimisticLocking: ErrOptimisticLockingFailure,
	KindInstanceComplete:  ErrInstanceAlreadyComplete,
}

// BatchError is the error type raised during batch processing.
// It holds the module where the error occurred, a message, the wrapped original error
// and the kind of failure.
type BatchError struct {
	// Module indicates the module where the error occurred (e.g., "source", "writer", "repository").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// Kind classifies the failure.
	Kind ErrorKind
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError of unknown kind.
//
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
func NewBatchError(module, message string, originalErr error) *BatchError {
	return newKindError(KindUnknown, module, message, originalErr)
}

// NewBatchErrorf creates a new BatchError of unknown kind using a format string.
// If the last argument is an error, it becomes OriginalErr and is not used for formatting.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			originalErr = err
			a = a[:len(a)-1]
		}
	}
	return newKindError(KindUnknown, module, fmt.Sprintf(format, a...), originalErr)
}

func newKindError(kind ErrorKind, module, message string, originalErr error) *BatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		Kind:        kind,
		StackTrace:  string(buf[:n]),
	}
}

// NewSourceError wraps a page fetch failure.
func NewSourceError(module string, offset int64, err error) *BatchError {
	return newKindError(KindSource, module, fmt.Sprintf("failed to fetch page at offset %d", offset), err)
}

// NewTransformError wraps a transformer failure for a single record.
func NewTransformError(module string, item interface{}, err error) *BatchError {
	return newKindError(KindTransform, module, fmt.Sprintf("failed to transform record %v", item), err)
}

// NewWriteError wraps a chunk persistence failure.
func NewWriteError(module string, size int, err error) *BatchError {
	return newKindError(KindWrite, module, fmt.Sprintf("failed to write chunk of %d records", size), err)
}

// NewConcurrentLaunchError reports that jobName with the given parameter fingerprint is already running.
func NewConcurrentLaunchError(jobName, paramsHash string, err error) *BatchError {
	return newKindError(KindConcurrentLaunch, "launcher",
		fmt.Sprintf("job '%s' (parameters %s) is already running", jobName, paramsHash), err)
}

// NewRestartMismatchError reports that a restart was requested with parameters different from the original run.
func NewRestartMismatchError(executionID, expected, actual string) *BatchError {
	return newKindError(KindRestartMismatch, "launcher",
		fmt.Sprintf("restart of execution %s requested with parameters %s, original parameters were %s", executionID, actual, expected), nil)
}

// NewInstanceAlreadyCompleteError reports that jobName with the given parameter fingerprint already completed.
// A completed instance is never re-run with the same parameters.
func NewInstanceAlreadyCompleteError(jobName, paramsHash string) *BatchError {
	return newKindError(KindInstanceComplete, "launcher",
		fmt.Sprintf("job '%s' (parameters %s) already completed", jobName, paramsHash), nil)
}

// NewOptimisticLockingFailureException creates a BatchError indicating an optimistic locking failure.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	return newKindError(KindOptimisticLocking, module, message, originalErr)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	prefix := e.Module
	if e.Kind != KindUnknown {
		prefix = fmt.Sprintf("%s/%s", e.Module, e.Kind)
	}
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is the sentinel of this error's kind.
func (e *BatchError) Is(target error) bool {
	if e.Kind == KindUnknown {
		return false
	}
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of the outermost BatchError in err's chain that has one.
func KindOf(err error) ErrorKind {
	for err != nil {
		var be *BatchError
		if !errors.As(err, &be) {
			return KindUnknown
		}
		if be.Kind != KindUnknown {
			return be.Kind
		}
		err = be.OriginalErr
	}
	return KindUnknown
}

// IsBatchError determines if the given error is, or wraps, a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}
