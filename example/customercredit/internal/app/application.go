package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	writer "github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	inframetrics "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	appConfig "github.com/tigerroll/chunkbatch/example/customercredit/internal/config"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
	appjob "github.com/tigerroll/chunkbatch/example/customercredit/internal/job"
)

// Process exit codes returned by RunApplication.
const (
	ExitCompleted = 0
	ExitFailed    = 1
	ExitStopped   = 2
)

const stopTimeout = 30 * time.Second

// Command selects what one invocation of the application does.
type Command struct {
	// Seed loads the demo customers before anything else runs.
	Seed bool
	// DryRun runs the job over the demo customers in memory.
	DryRun bool
	// Params are the parameters of a launch or a restart.
	Params model.JobParameters
	// RestartID, StopID and AbandonID select an operator action on an existing execution
	// instead of a launch.
	RestartID string
	StopID    string
	AbandonID string
}

// Options holds everything main.go hands to RunApplication.
type Options struct {
	EnvFilePath    string
	EmbeddedConfig config.EmbeddedConfig
	// DBProviders are the dialect modules selected by main.go.
	DBProviders []fx.Option
	Command     Command
}

// RunApplication builds the fx application for opts.Command, runs it to completion and
// returns the process exit code.
func RunApplication(appCtx context.Context, opts Options) int {
	cfg, err := config.LoadConfig(opts.EnvFilePath, opts.EmbeddedConfig)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return ExitFailed
	}
	logger.SetLogLevel(cfg.ChunkBatch.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.ChunkBatch.System.Logging.Level)

	creditCfg, err := appConfig.LoadCreditConfig(opts.EmbeddedConfig, config.NewOsEnvironmentExpander())
	if err != nil {
		logger.Errorf("Failed to load credit configuration: %v", err)
		return ExitFailed
	}
	done := make(exitCodes, 1)
	app := fx.New(
		fx.Supply(
			cfg,
			creditCfg,
			opts.Command,
			done,
			fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
		),
		modules(opts.Command, opts.DBProviders),
		fx.Invoke(registerJobRunner),
	)
	if err := app.Err(); err != nil {
		logger.Errorf("Failed to build application: %v", err)
		return ExitFailed
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		logger.Errorf("Failed to start application: %v", err)
		return ExitFailed
	}

	// Signals are handled by cancelling appCtx, so the command always reports its own exit code.
	code := <-done

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Errorf("Failed to stop application cleanly: %v", err)
	}
	return code
}

// exitCodes receives the exit code of the command once it has finished.
type exitCodes chan int

// JobRunnerParams defines the dependencies of registerJobRunner.
type JobRunnerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Done      exitCodes
	AppCtx    context.Context `name:"appCtx"`
	Cfg       *config.Config
	Command   Command
	Launcher  usecase.JobLauncher
	Operator  usecase.JobOperator
	Explorer  usecase.JobExplorer
	// The components below only exist outside of a dry run. Server and Exporter may be nil
	// when metrics or export are disabled.
	Server   *inframetrics.MetricsServer                    `optional:"true"`
	Exporter *writer.ParquetExporter[entity.CustomerCredit] `optional:"true"`
	Seeder   *Seeder                                        `optional:"true"`
	Sink     *appjob.MemorySink                             `optional:"true"`
}

// registerJobRunner starts the command once every OnStart hook (migrations included) has run,
// and reports its exit code on Done.
func registerJobRunner(p JobRunnerParams) {
	r := &jobRunner{p: p}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code := ExitFailed
				defer func() {
					if rec := recover(); rec != nil {
						logger.Errorf("Panic recovered in job execution: %v", rec)
					}
					logger.Infof("Requesting application shutdown (exit code %d).", code)
					p.Done <- code
				}()
				code = r.run(p.AppCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

type jobRunner struct {
	p JobRunnerParams
}

// run serves metrics while the command executes. The server stops with the command.
func (r *jobRunner) run(ctx context.Context) int {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	code := ExitFailed
	g.Go(func() error {
		return r.p.Server.Run(serverCtx)
	})
	g.Go(func() error {
		defer stopServer()
		code = r.execute(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Errorf("Metrics server failed: %v", err)
		if code == ExitCompleted {
			code = ExitFailed
		}
	}
	return code
}

// execute performs the command and maps its outcome to an exit code.
func (r *jobRunner) execute(ctx context.Context) int {
	cmd := r.p.Command

	if cmd.Seed {
		if r.p.Seeder == nil {
			logger.Warnf("Seeding is ignored by a dry run.")
		} else if err := r.p.Seeder.Seed(ctx); err != nil {
			logger.Errorf("%v", err)
			return ExitFailed
		}
	}

	switch {
	case cmd.StopID != "":
		return operatorExitCode("stop", r.p.Operator.Stop(ctx, cmd.StopID))
	case cmd.AbandonID != "":
		return operatorExitCode("abandon", r.p.Operator.Abandon(ctx, cmd.AbandonID))
	case cmd.RestartID != "":
		params := cmd.Params
		if params.Len() == 0 {
			stored, err := r.p.Explorer.GetParameters(ctx, cmd.RestartID)
			if err != nil {
				logger.Errorf("Failed to load the parameters of JobExecution (ID: %s): %v", cmd.RestartID, err)
				return ExitFailed
			}
			params = stored
		}
		je, err := r.p.Operator.Restart(ctx, cmd.RestartID, params)
		return r.finish(ctx, je, err)
	default:
		je, err := r.p.Launcher.Launch(ctx, r.p.Cfg.ChunkBatch.Batch.JobName, cmd.Params)
		return r.finish(ctx, je, err)
	}
}

// finish reports a finished run and exports what it wrote when it completed.
func (r *jobRunner) finish(ctx context.Context, je *model.JobExecution, err error) int {
	code := executionExitCode(je, err)
	if je == nil {
		logger.Errorf("Job '%s' could not be run: %v", r.p.Cfg.ChunkBatch.Batch.JobName, err)
		return code
	}
	logger.Infof("Job '%s' (Execution ID: %s) finished with status: %s, ExitStatus: %s",
		je.JobName, je.ID, je.Status, je.ExitStatus)
	if se := je.StepExecution(r.p.Cfg.ChunkBatch.Batch.StepName); se != nil {
		logger.Infof("Step '%s': read=%d filtered=%d written=%d commits=%d rollbacks=%d offset=%d",
			se.StepName, se.ReadCount, se.FilterCount, se.WriteCount, se.CommitCount, se.RollbackCount, se.LastCommittedOffset)
	}
	if code != ExitCompleted {
		return code
	}

	if r.p.Sink != nil {
		for _, c := range r.p.Sink.Items() {
			logger.Infof("Dry run: customer %d (%s) credit %.2f", c.ID, c.Name, c.Credit)
		}
	}
	uri, err := appjob.ExportWritten(ctx, r.p.Exporter)
	if err != nil {
		logger.Errorf("Failed to export written customers: %v", err)
		return ExitFailed
	}
	if uri != "" {
		logger.Infof("Exported written customers to %s", uri)
	}
	return code
}

// executionExitCode maps a launch or restart outcome to an exit code.
func executionExitCode(je *model.JobExecution, err error) int {
	if je == nil {
		return ExitFailed
	}
	switch je.Status {
	case model.BatchStatusCompleted:
		return ExitCompleted
	case model.BatchStatusStopped:
		return ExitStopped
	}
	var failure *usecase.JobFailureError
	if errors.As(err, &failure) {
		logger.Errorf("Job failed: %v", failure)
	}
	return ExitFailed
}

func operatorExitCode(action string, err error) int {
	if err != nil {
		logger.Errorf("Failed to %s JobExecution: %v", action, err)
		return ExitFailed
	}
	return ExitCompleted
}
