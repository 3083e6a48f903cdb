package observer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"academyjudge/internal/grader/model"
	"academyjudge/pkg/utils/logger"
)

func TestLogMetricsRecorderWritesDebugLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.log")
	if err := logger.Init(logger.Config{Level: "debug", Format: "json", OutputPath: path}); err != nil {
		t.Fatalf("init logger failed: %v", err)
	}

	var recorder MetricsRecorder = LogMetricsRecorder{}
	recorder.ObserveExecution(context.Background(), "python", model.ReasonTimeout, 1500*time.Millisecond)
	recorder.ObserveGrade(context.Background(), "python", 2, 3)
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"execution metric"`, `"duration_ms":1500`, `"grade metric"`, `"passed":2`} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %s in log %s", want, text)
		}
	}
}

func TestNoopMetricsRecorder(t *testing.T) {
	var recorder MetricsRecorder = NoopMetricsRecorder{}
	recorder.ObserveExecution(context.Background(), "java", model.ReasonNormal, time.Second)
	recorder.ObserveGrade(context.Background(), "java", 0, 0)
}
