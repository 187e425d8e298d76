package runner

import (
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpilot/testpilot/environment"
	"github.com/testpilot/testpilot/types"
)

// CommandBuilder constructs the runner process command line for one artifact
type CommandBuilder struct {
	RunnerBinary string
	Log          log.Logger
}

// NewCommandBuilder creates a command builder for the given runner binary
func NewCommandBuilder(runnerBinary string, logger log.Logger) *CommandBuilder {
	if logger == nil {
		logger = log.New()
	}
	return &CommandBuilder{RunnerBinary: runnerBinary, Log: logger}
}

// Build returns the full argv for executing one artifact, runner binary
// first. The artifact's format governs instrumentation: black-box formats
// never receive the coverage agent flag, even when the caller asked for
// coverage; the flag is silently downgraded with a diagnostic.
func (b *CommandBuilder) Build(artifact types.ResolvedArtifact, artifactPath string, env environment.Environment, opts types.ExecutionOptions) []string {
	args := []string{b.RunnerBinary, artifactPath, "--env", env.ID}

	if len(opts.Tags) > 0 {
		args = append(args, "--tags", strings.Join(opts.Tags, ","))
	}
	if opts.OutputPath != "" {
		args = append(args, "--output", opts.OutputPath)
	}
	if opts.ReportPath != "" {
		args = append(args, "--reports", opts.ReportPath)
	}
	if env.Timeout > 0 {
		args = append(args, "--timeout", env.Timeout.String())
	}

	if opts.WithCoverage {
		if artifact.Format.BlackBox() {
			// Format decides, not the caller's flag.
			b.Log.Warn("Coverage requested but artifact format is black-box; instrumentation disabled",
				"artifact", artifact.ID,
				"format", artifact.Format)
		} else {
			args = append(args, "--coverage-agent")
		}
	}

	return args
}
