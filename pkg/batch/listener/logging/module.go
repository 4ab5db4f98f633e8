package logging

import (
	"go.uber.org/fx"
)

// Value groups the listeners join. The launcher consumes JobListenerGroup;
// step builders consume StepListenerGroup and ChunkListenerGroup.
const (
	JobListenerGroup   = "jobListeners"
	StepListenerGroup  = "stepListeners"
	ChunkListenerGroup = "chunkListeners"
)

// Module aggregates all listener components provided by this package.
var Module = fx.Options(
	// Job Listener
	fx.Provide(fx.Annotate(NewLoggingJobListener, fx.ResultTags(`group:"jobListeners"`))),
	// Step Listener
	fx.Provide(fx.Annotate(NewLoggingStepListener, fx.ResultTags(`group:"stepListeners"`))),
	// Chunk Listener
	fx.Provide(fx.Annotate(NewLoggingChunkListener, fx.ResultTags(`group:"chunkListeners"`))),
)
