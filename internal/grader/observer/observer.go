// Package observer defines metrics hooks for code execution and grading.
package observer

import (
	"context"
	"time"

	"academyjudge/internal/grader/model"
	"academyjudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// MetricsRecorder records execution and grading metrics.
type MetricsRecorder interface {
	ObserveExecution(ctx context.Context, language string, reason model.TerminationReason, duration time.Duration)
	ObserveGrade(ctx context.Context, language string, passed, total int)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveExecution(ctx context.Context, language string, reason model.TerminationReason, duration time.Duration) {
}

func (NoopMetricsRecorder) ObserveGrade(ctx context.Context, language string, passed, total int) {
}

// LogMetricsRecorder writes metrics as debug log lines.
type LogMetricsRecorder struct{}

func (LogMetricsRecorder) ObserveExecution(ctx context.Context, language string, reason model.TerminationReason, duration time.Duration) {
	logger.Debug(ctx, "execution metric",
		zap.String("language", language),
		zap.String("reason", string(reason)),
		zap.Int64("duration_ms", duration.Milliseconds()),
	)
}

func (LogMetricsRecorder) ObserveGrade(ctx context.Context, language string, passed, total int) {
	logger.Debug(ctx, "grade metric",
		zap.String("language", language),
		zap.Int("passed", passed),
		zap.Int("total", total),
	)
}
