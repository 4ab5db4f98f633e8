package logging

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

// LoggingJobListener logs the boundaries of every job execution.
type LoggingJobListener struct{}

func NewLoggingJobListener() port.JobExecutionListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobExecutionListener: BeforeJob - JobName: %s, ID: %s, RestartCount: %d, Params: %s",
		jobExecution.JobName, jobExecution.ID, jobExecution.RestartCount, jobExecution.Parameters.String())
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	if jobExecution.Status == model.BatchStatusFailed {
		logger.Errorf("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s, Failures: %d",
			jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus, len(jobExecution.Failures))
		return
	}
	logger.Infof("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s",
		jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus)
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Step Execution Listener ---

// LoggingStepListener logs the boundaries of every step execution.
type LoggingStepListener struct{}

func NewLoggingStepListener() port.StepExecutionListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s, Offset: %d",
		stepExecution.StepName, stepExecution.ID, stepExecution.LastCommittedOffset)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitStatus: %s, Read: %d, Write: %d, Filter: %d, Commit: %d, Rollback: %d",
		stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus,
		stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.FilterCount,
		stepExecution.CommitCount, stepExecution.RollbackCount)
}

var _ port.StepExecutionListener = (*LoggingStepListener)(nil)

// --- Chunk Listener ---

// LoggingChunkListener logs every chunk at debug level and every rollback as an error.
type LoggingChunkListener struct{}

func NewLoggingChunkListener() port.ChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s, Offset: %d", stepExecution.StepName, stepExecution.LastCommittedOffset)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Read: %d, Write: %d, Offset: %d",
		stepExecution.StepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.LastCommittedOffset)
}

func (l *LoggingChunkListener) AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	logger.Errorf("ChunkListener: AfterChunkError - StepName: %s, Offset: %d, Error: %v",
		stepExecution.StepName, stepExecution.LastCommittedOffset, err)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)
