package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func TestBatchError_KindSentinels(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     exception.ErrorKind
	}{
		{"source", exception.NewSourceError("source", 4, cause), exception.ErrSource, exception.KindSource},
		{"transform", exception.NewTransformError("transformer", 7, cause), exception.ErrTransform, exception.KindTransform},
		{"write", exception.NewWriteError("writer", 2, cause), exception.ErrWrite, exception.KindWrite},
		{"concurrent", exception.NewConcurrentLaunchError("ioSampleJob", "abc", nil), exception.ErrConcurrentLaunch, exception.KindConcurrentLaunch},
		{"mismatch", exception.NewRestartMismatchError("id-1", "a", "b"), exception.ErrRestartMismatch, exception.KindRestartMismatch},
		{"locking", exception.NewOptimisticLockingFailureException("repository", "stale", nil), exception.ErrOptimisticLockingFailure, exception.KindOptimisticLocking},
		{"complete", exception.NewInstanceAlreadyCompleteError("ioSampleJob", "abc"), exception.ErrInstanceAlreadyComplete, exception.KindInstanceComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.kind, exception.KindOf(tt.err))

			wrapped := fmt.Errorf("step failed: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.kind, exception.KindOf(wrapped))
		})
	}
}

func TestBatchError_UnwrapsOriginal(t *testing.T) {
	cause := errors.New("disk full")
	err := exception.NewWriteError("writer", 3, cause)

	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, exception.ErrSource))
	assert.Contains(t, err.Error(), "WriteError")
	assert.Contains(t, err.Error(), "disk full")
}

func TestKindOf_LooksThroughUnknownKinds(t *testing.T) {
	inner := exception.NewTransformError("transformer", 1, errors.New("negative credit"))
	outer := exception.NewBatchError("step", "chunk aborted", inner)

	assert.Equal(t, exception.KindTransform, exception.KindOf(outer))
	assert.Equal(t, exception.KindUnknown, exception.KindOf(errors.New("plain")))
	assert.Equal(t, exception.KindUnknown, exception.KindOf(nil))
}

func TestNewBatchErrorf_TrailingErrorIsWrapped(t *testing.T) {
	cause := errors.New("boom")
	err := exception.NewBatchErrorf("config", "invalid chunk size %d", 0, cause)

	assert.Equal(t, "invalid chunk size 0", err.Message)
	assert.Equal(t, cause, err.OriginalErr)
	assert.Equal(t, "invalid chunk size 0", exception.ExtractErrorMessage(err))
	assert.True(t, exception.IsBatchError(fmt.Errorf("wrap: %w", err)))
}

func TestIsOptimisticLockingFailure(t *testing.T) {
	err := exception.NewOptimisticLockingFailureException("repository", "version mismatch", errors.New("0 rows"))
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.False(t, exception.IsOptimisticLockingFailure(errors.New("0 rows")))
}
