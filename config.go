package testpilot

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/testpilot/testpilot/flags"
	"github.com/testpilot/testpilot/types"
)

// Config holds the application configuration
type Config struct {
	EnvironmentsFile  string
	EnvironmentID     string
	WorkDir           string
	RunnerBinary      string
	RunnerDownloadURL string
	Artifacts         []string // artifact file paths from the command line
	Options           types.ExecutionOptions
	ServiceCommand    []string
	HealthURL         string
	LogDir            string
	RunInterval       time.Duration // interval between batches
	RunOnce           bool          // exit after one batch
	Log               log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	artifacts := ctx.Args().Slice()
	if len(artifacts) == 0 {
		return nil, errors.New("at least one test artifact is required")
	}

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory: %w", err)
	}
	logDir, err := filepath.Abs(ctx.String(flags.LogDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory: %w", err)
	}

	runnerBinary := ctx.String(flags.RunnerBinary.Name)
	if runnerBinary == "" {
		runnerBinary = filepath.Join(workDir, "bin", "test-runner")
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		EnvironmentsFile:  ctx.String(flags.EnvironmentsFile.Name),
		EnvironmentID:     ctx.String(flags.Environment.Name),
		WorkDir:           workDir,
		RunnerBinary:      runnerBinary,
		RunnerDownloadURL: ctx.String(flags.RunnerDownloadURL.Name),
		Artifacts:         artifacts,
		Options: types.ExecutionOptions{
			EnvironmentID:         ctx.String(flags.Environment.Name),
			Tags:                  ctx.StringSlice(flags.Tags.Name),
			Parallel:              ctx.Bool(flags.Parallel.Name),
			FailFast:              ctx.Bool(flags.FailFast.Name),
			OutputPath:            ctx.String(flags.OutputDir.Name),
			ReportPath:            ctx.String(flags.ReportDir.Name),
			WithCoverage:          ctx.Bool(flags.WithCoverage.Name),
			StartDependentService: ctx.Bool(flags.StartDependentService.Name),
		},
		ServiceCommand: ctx.StringSlice(flags.ServiceCommand.Name),
		HealthURL:      ctx.String(flags.HealthURL.Name),
		LogDir:         logDir,
		RunInterval:    runInterval,
		RunOnce:        runInterval == 0,
		Log:            logger,
	}, nil
}
