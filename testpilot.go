package testpilot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/testpilot/testpilot/environment"
	"github.com/testpilot/testpilot/logging"
	"github.com/testpilot/testpilot/provision"
	"github.com/testpilot/testpilot/reporting"
	"github.com/testpilot/testpilot/runner"
	"github.com/testpilot/testpilot/types"
	"github.com/testpilot/testpilot/verify"
)

// Orchestrator wires the execution pipeline together and drives batches,
// either once or periodically at a configured interval. It is constructed
// once per session and passed by reference; there is no global state.
type Orchestrator struct {
	ctx       context.Context
	config    *Config
	version   string
	envs      *environment.Manager
	scheduler *runner.Scheduler
	generator *reporting.Generator

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

// minimum size for a plausible runner binary; anything smaller is treated
// as a truncated download
const runnerMinValidBytes = 1024

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating orchestrator with config",
		"environmentsFile", config.EnvironmentsFile,
		"workDir", config.WorkDir,
		"runnerBinary", config.RunnerBinary,
		"artifacts", len(config.Artifacts),
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	envs, err := environment.NewManager(environment.ManagerConfig{
		Store: environment.NewYAMLStore(config.EnvironmentsFile),
		Log:   config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create environment manager: %w", err)
	}

	generator, err := reporting.NewGenerator(config.Options.ReportPath, config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create report generator: %w", err)
	}

	runID := uuid.New().String()
	fileLogger, err := logging.NewFileLogger(config.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}

	verifier := verify.NewVerifier(verify.Config{
		CandidateDirs: reportCandidates(config),
		Log:           config.Log,
	})

	// An explicit health URL overrides the probe the scheduler derives
	// from the batch environment's base URL.
	var healthCheck runner.CheckFunc
	if config.HealthURL != "" {
		healthCheck = runner.HTTPCheck(config.HealthURL)
	}

	scheduler, err := runner.NewScheduler(runner.Config{
		Environments: envs,
		Provisioner:  provision.NewProvisioner(provision.Config{Log: config.Log}),
		Binaries:     runnerBinaries(config),
		Verifier:     verifier,
		Reports:      generator,
		Command:      runner.NewCommandBuilder(config.RunnerBinary, config.Log),
		WorkDir:      config.WorkDir,
		ServiceCmd:   config.ServiceCommand,
		HealthCheck:  healthCheck,
		Notify:       &runner.LogSink{Log: config.Log},
		FileLogger:   fileLogger,
		Log:          config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	config.Log.Info("testpilot.New: created environment manager and scheduler", "run_id", runID)

	return &Orchestrator{
		ctx:              ctx,
		config:           config,
		version:          version,
		envs:             envs,
		scheduler:        scheduler,
		generator:        generator,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// runnerBinaries describes the external runner dependency: where it may
// already live, the bundled fallback, the download source and the legacy
// mirror location older tooling still reads.
func runnerBinaries(config *Config) []provision.Binary {
	name := filepath.Base(config.RunnerBinary)
	return []provision.Binary{{
		Name: name,
		CandidatePaths: []string{
			config.RunnerBinary,
			filepath.Join(config.WorkDir, "bin", name),
		},
		FallbackPaths: []string{
			filepath.Join(config.WorkDir, "vendor", name),
		},
		DownloadURL:   config.RunnerDownloadURL,
		MinValidBytes: runnerMinValidBytes,
		LegacyPath:    filepath.Join(config.WorkDir, "tools", name),
	}}
}

// reportCandidates lists the report directory locations in probe order
func reportCandidates(config *Config) []string {
	dirs := []string{}
	if config.Options.ReportPath != "" {
		dirs = append(dirs, config.Options.ReportPath)
	}
	dirs = append(dirs,
		filepath.Join(config.WorkDir, "target", "reports"),
		filepath.Join(config.WorkDir, "reports"),
		filepath.Join(config.WorkDir, "build", "reports"),
	)
	return dirs
}

// Start runs a batch immediately, then either exits (run-once mode) or
// keeps executing batches at the configured interval.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx = ctx
	o.done = make(chan struct{})
	o.running.Store(true)

	if o.config.RunOnce {
		o.config.Log.Info("Starting testpilot in run-once mode")
	} else {
		o.config.Log.Info("Starting testpilot in continuous mode", "interval", o.config.RunInterval)
	}

	err := o.runBatch()
	if err != nil {
		return err
	}

	if o.config.RunOnce {
		o.config.Log.Info("Batch completed, exiting (run-once mode)")
		summary := o.Summary()
		if !summary.Success {
			return NewTestFailureError(fmt.Sprintf("%d failed, %d errored of %d", summary.Failed, summary.Errored, summary.TotalTests))
		}
		go func() {
			o.shutdownCallback(nil)
		}()
		return nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.config.Log.Debug("Starting periodic batch goroutine", "interval", o.config.RunInterval)

		for {
			select {
			case <-time.After(o.config.RunInterval):
				if !o.running.Load() {
					o.config.Log.Debug("Service stopped, exiting periodic batch runner")
					return
				}
				o.config.Log.Info("Running periodic batch")
				if err := o.runBatch(); err != nil {
					o.config.Log.Error("Error running periodic batch", "error", err)
				}

			case <-o.done:
				o.config.Log.Debug("Done signal received, stopping periodic batch runner")
				return

			case <-ctx.Done():
				o.config.Log.Debug("Context canceled, stopping periodic batch runner")
				o.running.Store(false)
				return
			}
		}
	}()
	o.config.Log.Debug("testpilot started successfully")
	return nil
}

// runBatch executes the configured artifacts once and prints the results
func (o *Orchestrator) runBatch() error {
	refs := make([]types.ArtifactRef, 0, len(o.config.Artifacts))
	for _, path := range o.config.Artifacts {
		refs = append(refs, types.ArtifactRef{Path: path})
	}

	results, err := o.scheduler.ExecuteTests(o.ctx, refs, o.config.Options)
	if err != nil {
		o.config.Log.Error("Batch terminated with a runtime error", "error", err)
		return NewRuntimeError(err)
	}

	o.printResultsTable(results)
	return nil
}

// ExecuteTests runs an ad-hoc batch through the scheduler
func (o *Orchestrator) ExecuteTests(ctx context.Context, refs []types.ArtifactRef, opts types.ExecutionOptions) ([]types.TestResult, error) {
	return o.scheduler.ExecuteTests(ctx, refs, opts)
}

// Environments returns all registered execution environments
func (o *Orchestrator) Environments() []environment.Environment {
	return o.envs.Environments()
}

// GenerateReport renders the named format over all stored results and
// persists it to path, returning the final path written.
func (o *Orchestrator) GenerateReport(format string, path string) (string, error) {
	return o.generator.WriteReport(format, o.scheduler.Store().GetAllResults(), path)
}

// Summary derives the execution summary over all stored results
func (o *Orchestrator) Summary() types.ExecutionSummary {
	return o.scheduler.Store().Summary()
}

// Stop stops the orchestrator service.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.config.Log.Info("Stopping testpilot")

	if !o.running.Load() {
		o.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	o.running.Store(false)
	o.config.Log.Debug("Sending done signal to goroutines")
	close(o.done)

	o.config.Log.Info("testpilot stopped successfully")
	return nil
}

// Stopped returns true if the orchestrator service is stopped.
func (o *Orchestrator) Stopped() bool {
	return !o.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving on.
func (o *Orchestrator) WaitForShutdown(ctx context.Context) error {
	o.config.Log.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		o.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

// printResultsTable prints the batch results to the console
func (o *Orchestrator) printResultsTable(results []types.TestResult) {
	summary := types.Summarize(results)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Test Execution Results (%s)", formatDuration(summary.TotalDuration)))

	t.AppendHeader(table.Row{
		"Artifact", "Environment", "Duration", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Artifact", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, result := range results {
		t.AppendRow(table.Row{
			result.Name,
			result.EnvironmentID,
			formatDuration(result.Duration),
			getResultString(result.Status),
			result.ErrorMessage,
		})
	}

	if summary.Success {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(summary.TotalDuration),
		fmt.Sprintf("%d/%d passed", summary.Passed, summary.TotalTests),
		"",
	})
	t.Render()
}

// getResultString returns a short string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPassed:
		return "✓ passed"
	case types.TestStatusSkipped:
		return "- skipped"
	case types.TestStatusPending:
		return "? pending"
	case types.TestStatusError:
		return "! error"
	default:
		return "✗ failed"
	}
}

// formatDuration formats the duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
