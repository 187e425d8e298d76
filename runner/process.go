package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"al.essio.dev/pkg/shellescape"
	"github.com/ethereum/go-ethereum/log"
)

// ProcessResult captures the observable outcome of a launched process
type ProcessResult struct {
	Output   string // combined stdout and stderr
	ExitCode int
}

// ProcessRunner launches external processes. Run blocks until the process
// exits; Start launches without waiting (for dependent services).
type ProcessRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (ProcessResult, error)
	Start(ctx context.Context, dir string, name string, args ...string) error
}

// execRunner implements ProcessRunner on top of os/exec
type execRunner struct {
	log log.Logger
}

// NewProcessRunner creates the default os/exec-backed process runner
func NewProcessRunner(logger log.Logger) ProcessRunner {
	if logger == nil {
		logger = log.New()
	}
	return &execRunner{log: logger}
}

func (r *execRunner) Run(ctx context.Context, dir string, name string, args ...string) (ProcessResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	r.log.Debug("Launching process",
		"dir", dir,
		"command", shellescape.QuoteCommand(append([]string{name}, args...)))

	output, err := cmd.CombinedOutput()
	result := ProcessResult{Output: string(output)}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		// A non-zero exit is an outcome, not a launch failure; the
		// caller derives the status from the captured output.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, nil
		}
		return result, fmt.Errorf("launching %s: %w", name, err)
	}
	return result, nil
}

func (r *execRunner) Start(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	r.log.Info("Starting dependent service",
		"command", shellescape.QuoteCommand(append([]string{name}, args...)))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	// Reap the process when it exits so it never becomes a zombie.
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
