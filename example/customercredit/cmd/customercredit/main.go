package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "embed"

	"go.uber.org/fx"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkbatch/example/customercredit/internal/app"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// paramFlags collects repeated -param name(type)=value flags.
type paramFlags []string

func (p *paramFlags) String() string { return strings.Join(*p, ",") }

func (p *paramFlags) Set(v string) error {
	*p = append(*p, v)
	return nil
}

// getDBProviderOptions selects the DB Providers to use based on the DB_ADAPTORS environment variable
// (e.g., "postgres,sqlite"). If it is not set, Postgres, MySQL, and SQLite are used.
//
// Returns:
//
//	A list of fx.Option to provide to the Fx application.
func getDBProviderOptions() []fx.Option {
	adaptors := os.Getenv("DB_ADAPTORS")
	if adaptors == "" {
		adaptors = "postgres,mysql,sqlite"
	}

	seen := make(map[string]bool)
	options := make([]fx.Option, 0)
	for _, name := range strings.Split(adaptors, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if module, ok := app.DBProviderMap[name]; ok {
			options = append(options, module)
			logger.Debugf("DB Provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
		}
	}
	return options
}

// parseCommand reads the command line into an app.Command.
func parseCommand(args []string) (app.Command, error) {
	fs := flag.NewFlagSet("customercredit", flag.ContinueOnError)
	var (
		cmd    app.Command
		credit = fs.String("credit", "", "credit threshold; only customers above it are processed (job parameter credit(double))")
		params paramFlags
		next   = fs.String("incrementer", "", "derive a new job instance from the parameters: run.id or timestamp")
	)
	fs.BoolVar(&cmd.Seed, "seed", false, "load the demo customers before running")
	fs.BoolVar(&cmd.DryRun, "dry-run", false, "run over the demo customers in memory, without a database")
	fs.Var(&params, "param", "job parameter as name(type)=value; type is string, long, double, bool or date (repeatable)")
	fs.StringVar(&cmd.RestartID, "restart", "", "restart the FAILED or STOPPED job execution with this id")
	fs.StringVar(&cmd.StopID, "stop", "", "request the job execution with this id to stop")
	fs.StringVar(&cmd.AbandonID, "abandon", "", "abandon the job execution with this id, e.g. one left STARTED by a killed process; the next launch resumes it")
	if err := fs.Parse(args); err != nil {
		return app.Command{}, err
	}

	actions := 0
	for _, id := range []string{cmd.RestartID, cmd.StopID, cmd.AbandonID} {
		if id != "" {
			actions++
		}
	}
	if actions > 1 {
		return app.Command{}, errors.New("-restart, -stop and -abandon are mutually exclusive")
	}

	builder := model.NewJobParametersBuilder()
	if *credit != "" {
		params = append(params, "credit(double)="+*credit)
	}
	for _, p := range params {
		if err := builder.AddFromString(p); err != nil {
			return app.Command{}, err
		}
	}
	cmd.Params = builder.ToJobParameters()
	if *next != "" {
		inc, err := incrementer.ByName(*next)
		if err != nil {
			return app.Command{}, err
		}
		cmd.Params = inc.GetNext(cmd.Params)
	}
	return cmd, nil
}

// main is the entry point of the application.
// It manages the startup of the batch application, signal handling, and execution of the Fx container.
func main() {
	cmd, err := parseCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(app.ExitFailed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The running job stops at its next chunk boundary once ctx is cancelled.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the job...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	code := app.RunApplication(ctx, app.Options{
		EnvFilePath:    envFilePath,
		EmbeddedConfig: embeddedConfig,
		DBProviders:    getDBProviderOptions(),
		Command:        cmd,
	})
	_ = logger.Sync()
	cancel()
	os.Exit(code)
}
