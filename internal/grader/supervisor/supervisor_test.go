//go:build unix

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"academyjudge/internal/grader/language"
	"academyjudge/internal/grader/model"
)

type recordedExecution struct {
	language string
	reason   model.TerminationReason
}

type fakeMetrics struct {
	mu         sync.Mutex
	executions []recordedExecution
}

func (f *fakeMetrics) ObserveExecution(ctx context.Context, language string, reason model.TerminationReason, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, recordedExecution{language: language, reason: reason})
}

func (f *fakeMetrics) ObserveGrade(ctx context.Context, language string, passed, total int) {}

func shellRegistry() *language.Registry {
	return language.NewRegistry(language.NewInterpreted("sh", "solution.sh", "sh {src}"))
}

func assertRootEmpty(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read root failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover workspaces, found %d", len(entries))
	}
}

func TestRunUnsupportedLanguageTouchesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	metrics := &fakeMetrics{}
	s := New(shellRegistry(), Config{WorkRoot: root}, WithMetrics(metrics))

	res := s.Run(context.Background(), model.ExecutionRequest{SourceCode: "x", Language: "cobol"})
	if res.Succeeded || res.Reason != model.ReasonRuntimeError {
		t.Fatalf("expected runtime error, got %+v", res)
	}
	if res.ErrorMessage != "Unsupported language: cobol" {
		t.Fatalf("unexpected message %q", res.ErrorMessage)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected scratch root untouched, stat err=%v", err)
	}
	if len(metrics.executions) != 1 || metrics.executions[0].reason != model.ReasonRuntimeError {
		t.Fatalf("unexpected metrics %+v", metrics.executions)
	}
}

func TestRunReleasesWorkspaceOnEveryPath(t *testing.T) {
	tests := []struct {
		name   string
		source string
		reason model.TerminationReason
	}{
		{name: "success", source: "cat", reason: model.ReasonNormal},
		{name: "nonzero exit", source: "exit 2", reason: model.ReasonNonzeroExit},
		{name: "stderr", source: "echo oops >&2", reason: model.ReasonRuntimeError},
		{name: "timeout", source: "while :; do :; done", reason: model.ReasonTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			s := New(shellRegistry(), Config{WorkRoot: root, Timeout: 300 * time.Millisecond})
			res := s.Run(context.Background(), model.ExecutionRequest{
				SourceCode: tt.source,
				Language:   "sh",
				Stdin:      strPtr("hello"),
			})
			if res.Reason != tt.reason {
				t.Fatalf("expected %s, got %+v", tt.reason, res)
			}
			if res.Workspace == "" {
				t.Fatalf("expected workspace token on result")
			}
			assertRootEmpty(t, root)
		})
	}
}

func TestRunConcurrentExecutionsAreIsolated(t *testing.T) {
	root := t.TempDir()
	s := New(shellRegistry(), Config{WorkRoot: root})
	// Each program drops a marker and lists its own directory.
	source := `cat > marker; ls | sort | tr '\n' ' '; cat marker`

	const n = 16
	var wg sync.WaitGroup
	results := make([]model.ExecutionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := strings.Repeat("x", i+1)
			results[i] = s.Run(context.Background(), model.ExecutionRequest{SourceCode: source, Language: "sh", Stdin: &in})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, res := range results {
		if !res.Succeeded {
			t.Fatalf("run %d failed: %+v", i, res)
		}
		want := "marker solution.sh " + strings.Repeat("x", i+1)
		if res.Stdout != want {
			t.Fatalf("run %d saw foreign files: %q", i, res.Stdout)
		}
		if seen[res.Workspace] {
			t.Fatalf("workspace %s reused", res.Workspace)
		}
		seen[res.Workspace] = true
	}
	assertRootEmpty(t, root)
}

func TestRunEchoAcrossInstalledLanguages(t *testing.T) {
	tests := []struct {
		language string
		tool     string
		source   string
	}{
		{language: "python", tool: "python", source: "print(input())"},
		{language: "javascript", tool: "node", source: "process.stdin.on('data', d => process.stdout.write(d.toString()))"},
		{language: "java", tool: "javac", source: `import java.util.Scanner;
public class Main {
    public static void main(String[] args) {
        Scanner sc = new Scanner(System.in);
        System.out.println(sc.nextLine());
    }
}`},
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			if _, err := exec.LookPath(tt.tool); err != nil {
				t.Skipf("%s not installed", tt.tool)
			}
			s := New(language.DefaultRegistry(), Config{WorkRoot: t.TempDir(), Timeout: 20 * time.Second})
			res := s.Run(context.Background(), model.ExecutionRequest{
				SourceCode: tt.source,
				Language:   tt.language,
				Stdin:      strPtr("hello"),
			})
			if !res.Succeeded || res.Stdout != "hello" {
				t.Fatalf("expected hello, got %+v", res)
			}
		})
	}
}

func TestStdinPreview(t *testing.T) {
	long := strings.Repeat("a", 80)
	tests := []struct {
		name string
		in   *string
		want string
	}{
		{name: "absent", in: nil, want: "No input provided"},
		{name: "empty", in: strPtr(""), want: "No input provided"},
		{name: "short", in: strPtr("1 2"), want: "1 2"},
		{name: "long", in: &long, want: strings.Repeat("a", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stdinPreview(model.ExecutionRequest{Stdin: tt.in})
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
