// Package supervisor runs language commands as child processes under a wall-clock deadline.
package supervisor

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"academyjudge/internal/grader/language"
	"academyjudge/internal/grader/model"
	appErr "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	defaultWaitDelay      = 500 * time.Millisecond
)

// Executor spawns command pipelines and enforces their deadline.
type Executor struct {
	maxOutputBytes int
	waitDelay      time.Duration
}

// NewExecutor creates an executor capturing at most maxOutputBytes per stream.
func NewExecutor(maxOutputBytes int) *Executor {
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &Executor{maxOutputBytes: maxOutputBytes, waitDelay: defaultWaitDelay}
}

type stageOutcome struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	started  bool
	timedOut bool
}

// Execute runs every stage of cmd in dir. One deadline, measured from the first start, covers the pipeline.
// stdin, when non-empty, feeds the final stage; otherwise that stage reads from the null device.
// ctx carries log fields only and never cancels a running process.
func (e *Executor) Execute(ctx context.Context, cmd language.Command, dir string, stdin *string, timeout time.Duration) model.ExecutionResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)

	if len(cmd.Stages) == 0 {
		return model.ExecutionResult{
			Reason:       model.ReasonRuntimeError,
			ErrorMessage: "command has no stages",
			ExitCode:     -1,
		}
	}

	for i, stage := range cmd.Stages {
		last := i == len(cmd.Stages)-1
		var input *string
		if last {
			input = stdin
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutResult(start)
		}
		out := e.runStage(ctx, stage, dir, input, remaining)
		switch {
		case out.timedOut:
			logger.Warn(ctx, "execution timed out",
				zap.String("stage", stage.Name),
				zap.Duration("timeout", timeout),
			)
			return timeoutResult(start)
		case !out.started:
			return model.ExecutionResult{
				Reason:       model.ReasonRuntimeError,
				ErrorMessage: out.err.Error(),
				ExitCode:     -1,
				Duration:     time.Since(start),
			}
		case out.err != nil || out.exitCode != 0:
			msg := out.stderr
			if msg == "" && out.err != nil {
				msg = out.err.Error()
			}
			return model.ExecutionResult{
				Reason:       model.ReasonNonzeroExit,
				ErrorMessage: msg,
				ExitCode:     out.exitCode,
				Duration:     time.Since(start),
			}
		}

		if !last {
			if out.stderr != "" {
				logger.Debug(ctx, "stage diagnostics", zap.String("stage", stage.Name), zap.String("stderr", out.stderr))
			}
			continue
		}
		if cmd.FailOnStderr && out.stderr != "" {
			return model.ExecutionResult{
				Reason:       model.ReasonRuntimeError,
				ErrorMessage: out.stderr,
				Duration:     time.Since(start),
			}
		}
		return model.ExecutionResult{
			Succeeded: true,
			Stdout:    strings.TrimSpace(out.stdout),
			Reason:    model.ReasonNormal,
			Duration:  time.Since(start),
		}
	}
	return model.ExecutionResult{Reason: model.ReasonRuntimeError, ExitCode: -1}
}

func (e *Executor) runStage(ctx context.Context, stage language.Stage, dir string, stdin *string, limit time.Duration) stageOutcome {
	if len(stage.Args) == 0 {
		return stageOutcome{err: appErr.New(appErr.ExecutionSystemError).WithMessage("stage has no arguments")}
	}

	cmd := exec.Command(stage.Args[0], stage.Args[1:]...)
	cmd.Dir = dir
	cmd.SysProcAttr = buildSysProcAttr()
	cmd.WaitDelay = e.waitDelay
	if stdin != nil && *stdin != "" {
		cmd.Stdin = strings.NewReader(*stdin)
	}
	stdout := newCappedBuffer(e.maxOutputBytes)
	stderr := newCappedBuffer(e.maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return stageOutcome{err: err}
	}
	// Background children must not outlive the stage.
	defer killProcessGroup(cmd)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			// The program exited cleanly but left children holding its output.
			logger.Debug(ctx, "stage left children holding output", zap.String("stage", stage.Name))
			waitErr = nil
		}
		if stdout.Truncated() || stderr.Truncated() {
			logger.Warn(ctx, "output truncated",
				zap.String("stage", stage.Name),
				zap.Int("limit_bytes", e.maxOutputBytes),
			)
		}
		return stageOutcome{
			stdout:   stdout.String(),
			stderr:   stderr.String(),
			exitCode: exitCode(waitErr, cmd),
			err:      waitErr,
			started:  true,
		}
	case <-timer.C:
		killProcessGroup(cmd)
		// Reap the child; WaitDelay bounds this if grandchildren hold the pipes.
		if waitErr := <-done; waitErr != nil {
			logger.Debug(ctx, "killed process reaped", zap.String("stage", stage.Name), zap.Error(waitErr))
		}
		return stageOutcome{started: true, timedOut: true, exitCode: -1}
	}
}

func timeoutResult(start time.Time) model.ExecutionResult {
	return model.ExecutionResult{
		Reason:       model.ReasonTimeout,
		ErrorMessage: appErr.TimeLimitExceeded.Message(),
		ExitCode:     -1,
		Duration:     time.Since(start),
	}
}

func exitCode(err error, cmd *exec.Cmd) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
