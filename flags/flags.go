package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "TESTPILOT"

// prefixEnvVars returns the env var names for a flag
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	EnvironmentsFile = &cli.StringFlag{
		Name:     "environments",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("ENVIRONMENTS"),
		Usage:    "Path to the environments registry file (eg. 'environments.yaml')",
	}
	Environment = &cli.StringFlag{
		Name:    "environment",
		Value:   "",
		EnvVars: prefixEnvVars("ENVIRONMENT"),
		Usage:   "Environment id to execute against (defaults to the current environment)",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: prefixEnvVars("WORKDIR"),
		Usage:   "Working directory for runner processes and synthesized test files",
	}
	RunnerBinary = &cli.StringFlag{
		Name:    "runner-binary",
		Value:   "",
		EnvVars: prefixEnvVars("RUNNER_BINARY"),
		Usage:   "Path to the external test-runner binary",
	}
	RunnerDownloadURL = &cli.StringFlag{
		Name:    "runner-download-url",
		Value:   "",
		EnvVars: prefixEnvVars("RUNNER_DOWNLOAD_URL"),
		Usage:   "URL to download the runner binary from when it is missing locally",
	}
	Tags = &cli.StringSliceFlag{
		Name:    "tags",
		EnvVars: prefixEnvVars("TAGS"),
		Usage:   "Tag filters passed to the runner",
	}
	Parallel = &cli.BoolFlag{
		Name:    "parallel",
		Value:   false,
		EnvVars: prefixEnvVars("PARALLEL"),
		Usage:   "Execute artifacts concurrently (one process per artifact, no cap)",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: prefixEnvVars("FAIL_FAST"),
		Usage:   "Stop a sequential batch after the first non-passing artifact",
	}
	WithCoverage = &cli.BoolFlag{
		Name:    "coverage",
		Value:   false,
		EnvVars: prefixEnvVars("COVERAGE"),
		Usage:   "Request coverage instrumentation (ignored for black-box formats)",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output",
		Value:   "",
		EnvVars: prefixEnvVars("OUTPUT"),
		Usage:   "Directory the runner writes execution output into",
	}
	ReportDir = &cli.StringFlag{
		Name:    "reports",
		Value:   "target/reports",
		EnvVars: prefixEnvVars("REPORTS"),
		Usage:   "Directory the runner writes report artifacts into",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store per-run test output logs",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between batches (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	StartDependentService = &cli.BoolFlag{
		Name:    "start-service",
		Value:   false,
		EnvVars: prefixEnvVars("START_SERVICE"),
		Usage:   "Start the dependent service and gate on its health before executing",
	}
	ServiceCommand = &cli.StringSliceFlag{
		Name:    "service-command",
		EnvVars: prefixEnvVars("SERVICE_COMMAND"),
		Usage:   "Command used to launch the dependent service",
	}
	HealthURL = &cli.StringFlag{
		Name:    "health-url",
		Value:   "",
		EnvVars: prefixEnvVars("HEALTH_URL"),
		Usage:   "Health endpoint polled before execution (defaults to <baseUrl>/health)",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level (trace, debug, info, warn, error)",
	}
)

var requiredFlags = []cli.Flag{
	EnvironmentsFile,
}

var optionalFlags = []cli.Flag{
	Environment,
	WorkDir,
	RunnerBinary,
	RunnerDownloadURL,
	Tags,
	Parallel,
	FailFast,
	WithCoverage,
	OutputDir,
	ReportDir,
	LogDir,
	RunInterval,
	StartDependentService,
	ServiceCommand,
	HealthURL,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
