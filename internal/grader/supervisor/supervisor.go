package supervisor

import (
	"context"
	"time"

	"academyjudge/internal/grader/language"
	"academyjudge/internal/grader/model"
	"academyjudge/internal/grader/observer"
	"academyjudge/internal/grader/workspace"
	"academyjudge/pkg/utils/contextkey"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const stdinPreviewLen = 50

// Config holds supervisor settings.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
	WorkRoot       string
}

// Supervisor runs one execution request inside its own workspace.
type Supervisor struct {
	registry   *language.Registry
	workspaces *workspace.Manager
	executor   *Executor
	timeout    time.Duration
	metrics    observer.MetricsRecorder
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder observer.MetricsRecorder) Option {
	return func(s *Supervisor) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// New creates a supervisor.
func New(registry *language.Registry, cfg Config, opts ...Option) *Supervisor {
	if registry == nil {
		registry = language.DefaultRegistry()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Supervisor{
		registry:   registry,
		workspaces: workspace.NewManager(cfg.WorkRoot),
		executor:   NewExecutor(cfg.MaxOutputBytes),
		timeout:    timeout,
		metrics:    observer.NoopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Languages returns the supported language ids.
func (s *Supervisor) Languages() []string {
	return s.registry.Languages()
}

// Supports reports whether language is registered.
func (s *Supervisor) Supports(language string) bool {
	return s.registry.Supports(language)
}

// Timeout returns the per-execution deadline.
func (s *Supervisor) Timeout() time.Duration {
	return s.timeout
}

// Run executes req and always returns a result; failures are reported in the result.
func (s *Supervisor) Run(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	runner, err := s.registry.Lookup(req.Language)
	if err != nil {
		logger.Warn(ctx, "execution rejected", zap.String("language", req.Language), zap.Error(err))
		res := model.ExecutionResult{
			Reason:       model.ReasonRuntimeError,
			ErrorMessage: err.Error(),
			ExitCode:     -1,
		}
		s.metrics.ObserveExecution(ctx, req.Language, res.Reason, 0)
		return res
	}

	ws, err := s.workspaces.Acquire(ctx)
	if err != nil {
		logger.Error(ctx, "acquire workspace failed", zap.String("language", req.Language), zap.Error(err))
		res := model.ExecutionResult{
			Reason:       model.ReasonRuntimeError,
			ErrorMessage: err.Error(),
			ExitCode:     -1,
		}
		s.metrics.ObserveExecution(ctx, req.Language, res.Reason, 0)
		return res
	}
	defer s.workspaces.Release(ctx, ws)
	ctx = context.WithValue(ctx, contextkey.Workspace, ws.Token)

	res := s.execute(ctx, runner, ws, req)
	res.Workspace = ws.Token

	fields := []zap.Field{
		zap.String("language", req.Language),
		zap.String("reason", string(res.Reason)),
		zap.Bool("succeeded", res.Succeeded),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	}
	if res.Succeeded {
		logger.Info(ctx, "execution finished", fields...)
	} else {
		logger.Info(ctx, "execution failed", append(fields, zap.String("error", res.ErrorMessage))...)
	}
	s.metrics.ObserveExecution(ctx, req.Language, res.Reason, res.Duration)
	return res
}

func (s *Supervisor) execute(ctx context.Context, runner language.Runner, ws *workspace.Workspace, req model.ExecutionRequest) model.ExecutionResult {
	if _, err := runner.Materialize(req.SourceCode, ws); err != nil {
		logger.Error(ctx, "materialize source failed", zap.Error(err))
		return model.ExecutionResult{Reason: model.ReasonRuntimeError, ErrorMessage: err.Error(), ExitCode: -1}
	}
	cmd, err := runner.BuildCommand(ws)
	if err != nil {
		logger.Error(ctx, "build command failed", zap.Error(err))
		return model.ExecutionResult{Reason: model.ReasonRuntimeError, ErrorMessage: err.Error(), ExitCode: -1}
	}

	logger.Info(ctx, "executing command",
		zap.String("language", runner.ID()),
		zap.String("command", cmd.String()),
		zap.String("stdin", stdinPreview(req)),
	)
	return s.executor.Execute(ctx, cmd, ws.Dir, req.Stdin, s.timeout)
}

func stdinPreview(req model.ExecutionRequest) string {
	if !req.HasInput() {
		return "No input provided"
	}
	in := *req.Stdin
	if len(in) > stdinPreviewLen {
		return in[:stdinPreviewLen] + "..."
	}
	return in
}
