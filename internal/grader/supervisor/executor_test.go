//go:build unix

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"academyjudge/internal/grader/language"
	"academyjudge/internal/grader/model"
)

func shell(script string) language.Stage {
	return language.Stage{Name: language.StageRun, Args: []string{"sh", "-c", script}}
}

func strPtr(s string) *string { return &s }

func TestExecuteOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		cmd        language.Command
		stdin      *string
		succeeded  bool
		reason     model.TerminationReason
		stdout     string
		errMessage string
		exitCode   int
	}{
		{
			name:      "echo stdin",
			cmd:       language.Command{Stages: []language.Stage{shell("cat")}},
			stdin:     strPtr("hello"),
			succeeded: true,
			reason:    model.ReasonNormal,
			stdout:    "hello",
		},
		{
			name:      "no stdin reads nothing",
			cmd:       language.Command{Stages: []language.Stage{shell("cat")}},
			succeeded: true,
			reason:    model.ReasonNormal,
			stdout:    "",
		},
		{
			name:      "trims surrounding whitespace only",
			cmd:       language.Command{Stages: []language.Stage{shell(`printf '  1  2 3\n\n'`)}},
			succeeded: true,
			reason:    model.ReasonNormal,
			stdout:    "1  2 3",
		},
		{
			name:       "nonzero exit reports stderr",
			cmd:        language.Command{Stages: []language.Stage{shell("echo boom >&2; exit 3")}},
			reason:     model.ReasonNonzeroExit,
			errMessage: "boom\n",
			exitCode:   3,
		},
		{
			name:       "nonzero exit without stderr reports process error",
			cmd:        language.Command{Stages: []language.Stage{shell("exit 4")}},
			reason:     model.ReasonNonzeroExit,
			errMessage: "exit status 4",
			exitCode:   4,
		},
		{
			name:       "stderr fails when configured",
			cmd:        language.Command{Stages: []language.Stage{shell("echo warn >&2; echo out")}, FailOnStderr: true},
			reason:     model.ReasonRuntimeError,
			errMessage: "warn\n",
		},
		{
			name:      "stderr tolerated otherwise",
			cmd:       language.Command{Stages: []language.Stage{shell("echo warn >&2; echo out")}},
			succeeded: true,
			reason:    model.ReasonNormal,
			stdout:    "out",
		},
		{
			name: "compile diagnostics do not fail the run",
			cmd: language.Command{Stages: []language.Stage{
				{Name: language.StageCompile, Args: []string{"sh", "-c", "echo note >&2"}},
				shell("echo ran"),
			}},
			succeeded: true,
			reason:    model.ReasonNormal,
			stdout:    "ran",
		},
		{
			name:      "background child holding stdout after clean exit",
			cmd:       language.Command{Stages: []language.Stage{shell("sleep 30 & echo done")}},
			succeeded: true,
			reason:    model.ReasonNormal,
			stdout:    "done",
		},
	}

	ex := NewExecutor(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ex.Execute(context.Background(), tt.cmd, t.TempDir(), tt.stdin, 5*time.Second)
			if res.Succeeded != tt.succeeded {
				t.Fatalf("expected succeeded=%v, got %+v", tt.succeeded, res)
			}
			if res.Reason != tt.reason {
				t.Fatalf("expected reason %s, got %s", tt.reason, res.Reason)
			}
			if res.Stdout != tt.stdout {
				t.Fatalf("expected stdout %q, got %q", tt.stdout, res.Stdout)
			}
			if res.ErrorMessage != tt.errMessage {
				t.Fatalf("expected error %q, got %q", tt.errMessage, res.ErrorMessage)
			}
			if res.ExitCode != tt.exitCode {
				t.Fatalf("expected exit code %d, got %d", tt.exitCode, res.ExitCode)
			}
		})
	}
}

func TestExecuteTimeoutKillsRunaway(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "busy loop", script: "while :; do :; done"},
		{name: "background child holding pipes", script: "sleep 30 & wait"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout := 300 * time.Millisecond
			start := time.Now()
			res := NewExecutor(0).Execute(context.Background(),
				language.Command{Stages: []language.Stage{shell(tt.script)}}, t.TempDir(), nil, timeout)
			elapsed := time.Since(start)

			if res.Succeeded || res.Reason != model.ReasonTimeout {
				t.Fatalf("expected timeout, got %+v", res)
			}
			if res.ErrorMessage != "Time Limit Exceeded" {
				t.Fatalf("unexpected message %q", res.ErrorMessage)
			}
			if elapsed > timeout+time.Second {
				t.Fatalf("timeout took too long: %v", elapsed)
			}
		})
	}
}

func TestExecuteKillsBackgroundChildren(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "detached from pipes", script: "sleep 30 </dev/null >/dev/null 2>&1 & echo $! > bg.pid; echo done"},
		{name: "holding stdout", script: "sleep 30 & echo $! > bg.pid; echo done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			res := NewExecutor(0).Execute(context.Background(),
				language.Command{Stages: []language.Stage{shell(tt.script)}}, dir, nil, 5*time.Second)
			if !res.Succeeded || res.Stdout != "done" {
				t.Fatalf("expected clean run, got %+v", res)
			}

			raw, err := os.ReadFile(filepath.Join(dir, "bg.pid"))
			if err != nil {
				t.Fatalf("read pid file: %v", err)
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
			if err != nil {
				t.Fatalf("parse pid %q: %v", raw, err)
			}
			deadline := time.Now().Add(2 * time.Second)
			for !processGone(pid) {
				if time.Now().After(deadline) {
					_ = unix.Kill(pid, unix.SIGKILL)
					t.Fatalf("background child %d still running", pid)
				}
				time.Sleep(20 * time.Millisecond)
			}
		})
	}
}

// processGone reports whether pid no longer exists or is only a zombie.
func processGone(pid int) bool {
	if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	idx := strings.LastIndexByte(string(stat), ')')
	if idx < 0 {
		return false
	}
	fields := strings.Fields(string(stat)[idx+1:])
	return len(fields) > 0 && fields[0] == "Z"
}

func TestExecuteDeadlineSpansStages(t *testing.T) {
	dir := t.TempDir()
	cmd := language.Command{Stages: []language.Stage{
		{Name: language.StageCompile, Args: []string{"sh", "-c", "sleep 0.3"}},
		shell("sleep 0.3; touch ran"),
	}}
	res := NewExecutor(0).Execute(context.Background(), cmd, dir, nil, 400*time.Millisecond)
	if res.Reason != model.ReasonTimeout {
		t.Fatalf("expected timeout across stages, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "ran")); !os.IsNotExist(err) {
		t.Fatalf("expected run stage to be killed before finishing")
	}
}

func TestExecuteStopsAfterFailedStage(t *testing.T) {
	dir := t.TempDir()
	cmd := language.Command{Stages: []language.Stage{
		{Name: language.StageCompile, Args: []string{"sh", "-c", "echo 'Main.java:1: error' >&2; exit 1"}},
		shell("touch ran"),
	}}
	res := NewExecutor(0).Execute(context.Background(), cmd, dir, nil, 5*time.Second)
	if res.Reason != model.ReasonNonzeroExit {
		t.Fatalf("expected nonzero exit, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "Main.java:1: error") {
		t.Fatalf("expected compile diagnostics, got %q", res.ErrorMessage)
	}
	if _, err := os.Stat(filepath.Join(dir, "ran")); !os.IsNotExist(err) {
		t.Fatalf("run stage must not execute after a failed compile")
	}
}

func TestExecuteStartFailure(t *testing.T) {
	cmd := language.Command{Stages: []language.Stage{{Name: language.StageRun, Args: []string{"/nonexistent/interpreter"}}}}
	res := NewExecutor(0).Execute(context.Background(), cmd, t.TempDir(), nil, time.Second)
	if res.Succeeded || res.Reason != model.ReasonRuntimeError {
		t.Fatalf("expected runtime error, got %+v", res)
	}
	if res.ErrorMessage == "" {
		t.Fatalf("expected process error message")
	}
}

func TestExecuteCapsOutput(t *testing.T) {
	cmd := language.Command{Stages: []language.Stage{shell("i=0; while [ $i -lt 100 ]; do printf x; i=$((i+1)); done")}}
	res := NewExecutor(10).Execute(context.Background(), cmd, t.TempDir(), nil, 5*time.Second)
	if !res.Succeeded {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Stdout != "xxxxxxxxxx" {
		t.Fatalf("expected 10 bytes, got %q", res.Stdout)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("expected full write report, got n=%d err=%v", n, err)
	}
	_, _ = b.Write([]byte("gh"))
	if b.String() != "abcd" || !b.Truncated() {
		t.Fatalf("unexpected buffer state %q truncated=%v", b.String(), b.Truncated())
	}
}
