package testpilot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/testpilot/testpilot/flags"
)

func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var cfg *Config
	var cfgErr error
	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, nil)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"testpilot"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig(t *testing.T) {
	cfg, err := parseConfig(t,
		"--environments", "environments.yaml",
		"--environment", "staging",
		"--workdir", "/work",
		"--tags", "smoke",
		"--tags", "fast",
		"--parallel",
		"--coverage",
		"--reports", "custom/reports",
		"--run-interval", "1h",
		"login.feature", "checkout.side",
	)
	require.NoError(t, err)

	assert.Equal(t, "environments.yaml", cfg.EnvironmentsFile)
	assert.Equal(t, "staging", cfg.EnvironmentID)
	assert.Equal(t, "/work", cfg.WorkDir)
	assert.Equal(t, []string{"login.feature", "checkout.side"}, cfg.Artifacts)
	assert.Equal(t, []string{"smoke", "fast"}, cfg.Options.Tags)
	assert.True(t, cfg.Options.Parallel)
	assert.True(t, cfg.Options.WithCoverage)
	assert.Equal(t, "custom/reports", cfg.Options.ReportPath)
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.False(t, cfg.RunOnce)

	// Runner binary defaults to the work directory's bin
	assert.Equal(t, filepath.Join("/work", "bin", "test-runner"), cfg.RunnerBinary)
}

func TestNewConfigRunOnceByDefault(t *testing.T) {
	cfg, err := parseConfig(t, "--environments", "environments.yaml", "a.feature")
	require.NoError(t, err)
	assert.True(t, cfg.RunOnce)
	assert.Zero(t, cfg.RunInterval)
}

func TestNewConfigRequiresArtifacts(t *testing.T) {
	_, err := parseConfig(t, "--environments", "environments.yaml")
	assert.ErrorContains(t, err, "at least one test artifact")
}

func TestNewConfigExplicitRunnerBinary(t *testing.T) {
	cfg, err := parseConfig(t,
		"--environments", "environments.yaml",
		"--runner-binary", "/opt/bin/custom-runner",
		"a.feature",
	)
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/custom-runner", cfg.RunnerBinary)
}
