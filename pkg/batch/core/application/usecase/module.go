package usecase

import (
	"go.uber.org/fx"
)

// Module is the Fx module for JobRegistry, JobLauncher, JobOperator, and JobExplorer.
// Jobs are contributed with AsJob; job listeners join the "jobListeners" group.
var Module = fx.Options(
	fx.Provide(NewJobRegistry),

	// Provide JobExplorer
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),

	// Provide JobLauncher
	fx.Provide(NewSimpleJobLauncherFromParams),
	fx.Provide(func(launcher *SimpleJobLauncher) JobLauncher { return launcher }),

	// Provide JobOperator
	fx.Provide(fx.Annotate(
		NewDefaultJobOperator,
		fx.As(new(JobOperator)),
	)),
)
