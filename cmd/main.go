package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	testpilot "github.com/testpilot/testpilot"
	"github.com/testpilot/testpilot/exitcodes"
	"github.com/testpilot/testpilot/flags"
	"github.com/testpilot/testpilot/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "testpilot"
	app.Usage = "Automated test-artifact execution orchestrator"
	app.ArgsUsage = "<artifact> [artifact...]"
	app.Description = "testpilot provisions the external test runner, executes test artifacts against a configured environment and generates summary reports"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeFor(err)))
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start healthz and metrics servers
	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	logger := setupLogger(cliCtx.String(flags.LogLevel.Name))

	cfg, err := testpilot.NewConfig(cliCtx, logger)
	if err != nil {
		return testpilot.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	ctx, cancel := context.WithCancelCause(cliCtx.Context)
	defer cancel(nil)

	orchestrator, err := testpilot.New(ctx, cfg, Version, func(err error) {
		cancel(err)
	})
	if err != nil {
		return testpilot.NewRuntimeError(fmt.Errorf("failed to create orchestrator: %w", err))
	}

	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	// Continuous mode: run until interrupted
	<-ctx.Done()
	return orchestrator.Stop(context.Background())
}

// exitCodeFor maps the error taxonomy to process exit codes: test failures
// exit 1, everything else is a runtime error and exits 2.
func exitCodeFor(err error) int {
	if testpilot.IsTestFailureError(err) {
		return exitcodes.TestFailure
	}
	return exitcodes.RuntimeErr
}

func setupLogger(level string) log.Logger {
	lvl := log.LevelInfo
	switch strings.ToLower(level) {
	case "trace":
		lvl = log.LevelTrace
	case "debug":
		lvl = log.LevelDebug
	case "warn":
		lvl = log.LevelWarn
	case "error":
		lvl = log.LevelError
	}
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true))
	log.SetDefault(logger)
	return logger
}
