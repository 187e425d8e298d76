package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/testpilot/testpilot/environment"
	"github.com/testpilot/testpilot/logging"
	"github.com/testpilot/testpilot/metrics"
	"github.com/testpilot/testpilot/provision"
	"github.com/testpilot/testpilot/types"
)

// CompletionChecker verifies that expected report artifacts were produced
// after a batch. Its failure is the batch's terminal error.
type CompletionChecker interface {
	VerifyCompletion(ctx context.Context, results []types.TestResult) error
}

// ReportSink publishes summary reports for a finished batch. Publishing is
// a decoupled post-step: its failure is logged, never returned.
type ReportSink interface {
	Publish(results []types.TestResult) error
}

// Scheduler drives execution of one-to-many artifacts
type Scheduler struct {
	envs         *environment.Manager
	provisioner  *provision.Provisioner
	binaries     []provision.Binary
	store        *ResultStore
	verifier     CompletionChecker
	reports      ReportSink
	process      ProcessRunner
	health       *HealthPoller
	command      *CommandBuilder
	workDir      string
	preExecDelay time.Duration
	serviceCmd   []string
	healthCheck  CheckFunc
	notify       Sink
	fileLogger   *logging.FileLogger
	log          log.Logger
	tracer       trace.Tracer
}

// Config holds configuration for creating a new Scheduler
type Config struct {
	Environments *environment.Manager
	Provisioner  *provision.Provisioner
	Binaries     []provision.Binary
	Store        *ResultStore
	Verifier     CompletionChecker
	Reports      ReportSink
	Process      ProcessRunner
	Command      *CommandBuilder
	WorkDir      string
	PreExecDelay time.Duration // reduces startup-race flakiness
	ServiceCmd   []string      // dependent service launch command
	HealthCheck  CheckFunc
	Notify       Sink
	FileLogger   *logging.FileLogger
	Log          log.Logger
}

// Health gate bounds. All waits are fixed-delay.
const (
	healthMaxAttempts  = 10
	healthInterval     = 2 * time.Second
	healthInitialDelay = 1 * time.Second

	defaultPreExecDelay = 300 * time.Millisecond

	// Directory under the work dir where inline artifacts are written
	testFilesDir = "test-files"
)

// NewScheduler creates a scheduler
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Environments == nil {
		return nil, fmt.Errorf("environment manager is required")
	}
	if cfg.Command == nil {
		return nil, fmt.Errorf("command builder is required")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Store == nil {
		cfg.Store = NewResultStore()
	}
	if cfg.Process == nil {
		cfg.Process = NewProcessRunner(cfg.Log)
	}
	if cfg.Provisioner == nil {
		cfg.Provisioner = provision.NewProvisioner(provision.Config{Log: cfg.Log})
	}
	if cfg.Notify == nil {
		cfg.Notify = noopSink{}
	}
	if cfg.PreExecDelay == 0 {
		cfg.PreExecDelay = defaultPreExecDelay
	}

	return &Scheduler{
		envs:         cfg.Environments,
		provisioner:  cfg.Provisioner,
		binaries:     cfg.Binaries,
		store:        cfg.Store,
		verifier:     cfg.Verifier,
		reports:      cfg.Reports,
		process:      cfg.Process,
		health:       NewHealthPoller(cfg.Log),
		command:      cfg.Command,
		workDir:      cfg.WorkDir,
		preExecDelay: cfg.PreExecDelay,
		serviceCmd:   cfg.ServiceCmd,
		healthCheck:  cfg.HealthCheck,
		notify:       cfg.Notify,
		fileLogger:   cfg.FileLogger,
		log:          cfg.Log,
		tracer:       otel.Tracer("scheduler"),
	}, nil
}

// Store exposes the result store so callers can query produced results
// even after a batch terminates with a verification error.
func (s *Scheduler) Store() *ResultStore {
	return s.store
}

// ExecuteTests runs a batch of artifacts and returns their results.
// Dependency provisioning failures abort before any test runs; a
// verification failure is returned alongside the produced results.
func (s *Scheduler) ExecuteTests(ctx context.Context, refs []types.ArtifactRef, opts types.ExecutionOptions) ([]types.TestResult, error) {
	runID := uuid.New().String()
	ctx, span := s.tracer.Start(ctx, "execute tests")
	defer span.End()

	s.log.Info("Starting execution batch", "run_id", runID, "artifacts", len(refs), "parallel", opts.Parallel, "failFast", opts.FailFast)

	s.notify.Busy("Provisioning dependencies...")
	if err := s.provisioner.Ensure(ctx, s.binaries); err != nil {
		s.notify.Error(fmt.Sprintf("Dependency provisioning failed: %v", err))
		metrics.RecordErrorDetails("provisioning", err)
		return nil, err
	}

	if opts.StartDependentService {
		s.startDependentService(ctx, opts)
	}

	artifacts, filtered := s.resolveArtifacts(refs)
	if filtered > 0 {
		// Diagnostics only; filtered items never alter batch success.
		s.log.Warn("Filtered out unrecognized artifacts", "filtered", filtered, "remaining", len(artifacts))
	}

	var results []types.TestResult
	var err error
	if opts.Parallel {
		results, err = s.executeParallel(ctx, runID, artifacts, opts)
	} else {
		results, err = s.executeSequential(ctx, runID, artifacts, opts)
	}
	if err != nil {
		s.notify.Error(fmt.Sprintf("Batch aborted: %v", err))
		return results, err
	}

	summary := types.Summarize(results)
	metrics.RecordBatch(opts.EnvironmentID, runID, summary, summary.TotalDuration)
	if s.fileLogger != nil {
		if err := s.fileLogger.Complete(summary); err != nil {
			s.log.Warn("Failed to write run summary", "error", err)
		}
	}

	if s.verifier != nil {
		s.notify.Busy("Verifying report artifacts...")
		if err := s.verifier.VerifyCompletion(ctx, results); err != nil {
			// Results already produced stay retrievable via the store.
			s.notify.Error(fmt.Sprintf("Report verification failed: %v", err))
			return results, err
		}
	}

	s.publishReports(results)

	if summary.Success {
		s.notify.Success(fmt.Sprintf("Execution complete: %d/%d passed", summary.Passed, summary.TotalTests))
	} else {
		s.notify.Error(fmt.Sprintf("Execution complete with failures: %d failed, %d errored of %d", summary.Failed, summary.Errored, summary.TotalTests))
	}
	s.log.Info("Execution batch finished", "run_id", runID, "total", summary.TotalTests, "passed", summary.Passed, "failed", summary.Failed, "errored", summary.Errored, "success", summary.Success)
	return results, nil
}

// startDependentService launches the configured service and blocks on the
// health gate. The gate is fail-open: execution proceeds either way.
// Without an explicit health check the probe is derived from the batch
// environment's base URL.
func (s *Scheduler) startDependentService(ctx context.Context, opts types.ExecutionOptions) {
	if len(s.serviceCmd) > 0 {
		s.notify.Busy("Starting dependent service...")
		if err := s.process.Start(ctx, s.workDir, s.serviceCmd[0], s.serviceCmd[1:]...); err != nil {
			s.log.Error("Failed to start dependent service", "error", err)
			metrics.RecordErrorDetails("dependent_service_start", err)
		}
	}

	check := s.healthCheck
	if check == nil {
		if env, err := s.envs.Resolve(opts.EnvironmentID); err == nil && env.BaseURL != "" {
			url := strings.TrimSuffix(env.BaseURL, "/") + "/health"
			s.log.Debug("Derived health endpoint from environment", "environment", env.ID, "url", url)
			check = HTTPCheck(url)
		}
	}
	if check != nil {
		s.notify.Busy("Waiting for dependent service to become ready...")
		s.health.WaitUntilReady(ctx, check, healthMaxAttempts, healthInterval, healthInitialDelay)
	}
}

// resolveArtifacts normalizes the caller union into tagged variants,
// dropping anything without a recognized format. The dropped count is for
// diagnostics only.
func (s *Scheduler) resolveArtifacts(refs []types.ArtifactRef) ([]types.ResolvedArtifact, int) {
	artifacts := make([]types.ResolvedArtifact, 0, len(refs))
	filtered := 0
	for _, ref := range refs {
		artifact, err := ref.Resolve()
		if err != nil {
			s.log.Warn("Skipping unresolvable artifact", "error", err)
			filtered++
			continue
		}
		if artifact.Format == types.FormatUnknown {
			s.log.Warn("Skipping artifact with unrecognized format", "artifact", artifact.DisplayName())
			filtered++
			continue
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, filtered
}

// executeSequential runs artifacts in order. With failFast set, the first
// non-passing result stops the batch; remaining artifacts produce no
// results.
func (s *Scheduler) executeSequential(ctx context.Context, runID string, artifacts []types.ResolvedArtifact, opts types.ExecutionOptions) ([]types.TestResult, error) {
	results := make([]types.TestResult, 0, len(artifacts))
	for _, artifact := range artifacts {
		result, err := s.ExecuteOneTest(ctx, runID, artifact, opts)
		if err != nil {
			return results, err
		}
		results = append(results, result)

		if opts.FailFast && result.Status != types.TestStatusPassed {
			s.log.Warn("Stopping batch early", "artifact", artifact.ID, "status", result.Status)
			break
		}
	}
	return results, nil
}

// executeParallel launches one execution goroutine per artifact and joins
// all of them. Fan-out is unbounded; the host's process-spawning capacity
// is the only limit. There is no cancellation primitive: failFast cannot
// abort an in-flight parallel batch.
func (s *Scheduler) executeParallel(ctx context.Context, runID string, artifacts []types.ResolvedArtifact, opts types.ExecutionOptions) ([]types.TestResult, error) {
	results := make([]types.TestResult, len(artifacts))
	errs := make([]error, len(artifacts))

	var wg sync.WaitGroup
	for i, artifact := range artifacts {
		wg.Add(1)
		go func(i int, artifact types.ResolvedArtifact) {
			defer wg.Done()
			results[i], errs[i] = s.ExecuteOneTest(ctx, runID, artifact, opts)
		}(i, artifact)
	}
	wg.Wait()

	final := make([]types.TestResult, 0, len(artifacts))
	for i := range artifacts {
		if errs[i] != nil {
			return final, errs[i]
		}
		final = append(final, results[i])
	}
	return final, nil
}

// ExecuteOneTest runs a single artifact and records its result. The only
// error it returns is environment resolution failure (a configuration
// error); launch failures are captured as an ERROR result instead.
func (s *Scheduler) ExecuteOneTest(ctx context.Context, runID string, artifact types.ResolvedArtifact, opts types.ExecutionOptions) (result types.TestResult, err error) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("artifact %s", artifact.ID))
	defer span.End()

	env, err := s.envs.Resolve(opts.EnvironmentID)
	if err != nil {
		return types.TestResult{}, err
	}

	attemptStart := time.Now()

	// Convert panics into an ERROR result rather than unwinding the batch.
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("Panic executing artifact", "artifact", artifact.ID, "panic", rec)
			now := time.Now()
			result = s.recordResult(types.TestResult{
				ID:            uuid.New().String(),
				ArtifactID:    artifact.ID,
				Name:          artifact.DisplayName(),
				Status:        types.TestStatusError,
				StartTime:     attemptStart,
				EndTime:       now,
				Duration:      now.Sub(attemptStart),
				EnvironmentID: env.ID,
				ErrorMessage:  fmt.Sprintf("runtime error: %v", rec),
				StackTrace:    string(debug.Stack()),
			}, runID)
			err = nil
		}
	}()

	path, synthesized, err := s.materialize(artifact)
	if err != nil {
		// Treat materialization like a launch failure: capture, don't abort.
		now := time.Now()
		return s.recordResult(types.TestResult{
			ID:            uuid.New().String(),
			ArtifactID:    artifact.ID,
			Name:          artifact.DisplayName(),
			Status:        types.TestStatusError,
			StartTime:     now,
			EndTime:       now,
			EnvironmentID: env.ID,
			ErrorMessage:  err.Error(),
		}, runID), nil
	}
	if synthesized {
		defer s.cleanupSynthesized(path)
	}

	argv := s.command.Build(artifact, path, env, opts)

	// Short delay before launch to reduce startup-race flakiness.
	sleepCtx(ctx, s.preExecDelay)

	s.notify.Busy(fmt.Sprintf("Running %s...", artifact.DisplayName()))
	start := time.Now()
	procResult, runErr := s.process.Run(ctx, s.workDir, argv[0], argv[1:]...)
	end := time.Now()

	result = types.TestResult{
		ID:            uuid.New().String(),
		ArtifactID:    artifact.ID,
		Name:          artifact.DisplayName(),
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start),
		Output:        procResult.Output,
		EnvironmentID: env.ID,
	}
	if artifact.Format == types.FormatFeature {
		result.FeatureName = artifact.ID
	}

	if runErr != nil {
		result.Status = types.TestStatusError
		result.ErrorMessage = runErr.Error()
		result.StackTrace = fmt.Sprintf("%+v", runErr)
		s.log.Error("Artifact launch failed", "artifact", artifact.ID, "error", runErr)
	} else {
		result.Status = ParseStatus(procResult.Output)
		if result.Status == types.TestStatusFailed {
			result.ErrorMessage = firstFailureLine(procResult.Output)
		}
	}

	return s.recordResult(result, runID), nil
}

// recordResult stores the result, logs it to the run directory and emits
// metrics. Results are immutable after this point.
func (s *Scheduler) recordResult(result types.TestResult, runID string) types.TestResult {
	s.store.Append(result)
	if s.fileLogger != nil {
		if err := s.fileLogger.LogTestResult(result); err != nil {
			s.log.Warn("Failed to write test output log", "artifact", result.ArtifactID, "error", err)
		}
	}
	metrics.RecordExecution(result.EnvironmentID, runID, result.ArtifactID, result.Status)
	s.log.Info("Recorded result", "artifact", result.ArtifactID, "status", result.Status, "duration", result.Duration)
	return result
}

// materialize returns a filesystem path for the artifact. Inline content
// is written to a synthesized file under the work dir with a trailing
// newline; the caller is responsible for cleaning it up. The filename
// carries a unique suffix so same-id inline artifacts in a parallel batch
// never share a path.
func (s *Scheduler) materialize(artifact types.ResolvedArtifact) (string, bool, error) {
	if artifact.Kind == types.ArtifactFileRef {
		return artifact.Path, false, nil
	}

	dir := filepath.Join(s.workDir, testFilesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("creating test files directory: %w", err)
	}

	content := artifact.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	name := fmt.Sprintf("%s-%s%s", artifact.ID, uuid.New().String(), artifact.Format.Extension())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("writing inline artifact %s: %w", artifact.ID, err)
	}
	return path, true, nil
}

// cleanupSynthesized removes a file this scheduler wrote. Caller-supplied
// files are never deleted.
func (s *Scheduler) cleanupSynthesized(path string) {
	if err := os.Remove(path); err != nil {
		s.log.Warn("Failed to remove synthesized test file", "path", path, "error", err)
	}
}

// publishReports triggers report generation as a decoupled post-step
func (s *Scheduler) publishReports(results []types.TestResult) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Publish(results); err != nil {
		s.log.Error("Report generation failed", "error", err)
		metrics.RecordErrorDetails("report_generation", err)
	}
}

// firstFailureLine pulls the first line containing a failure marker, for
// the result's error message.
func firstFailureLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if containsAny(line, failureMarkers) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
