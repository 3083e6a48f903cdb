// Package language maps language ids to runners that materialize source and build commands.
package language

import (
	"os"
	"path/filepath"
	"strings"

	"academyjudge/internal/grader/workspace"
	appErr "academyjudge/pkg/errors"

	"github.com/google/shlex"
)

const (
	StageCompile = "compile"
	StageRun     = "run"
)

// Runner is one supported language.
type Runner interface {
	ID() string
	// Materialize writes source into the workspace and returns the file path.
	Materialize(source string, ws *workspace.Workspace) (string, error)
	BuildCommand(ws *workspace.Workspace) (Command, error)
	// StderrIsFailure reports whether stderr output on a zero exit fails the run.
	StderrIsFailure() bool
}

// Stage is one process invocation in a command pipeline.
type Stage struct {
	Name string
	Args []string
}

// Command is an ordered pipeline; each stage runs only if the previous one exited 0.
type Command struct {
	Stages []Stage
	// FailOnStderr marks a zero exit of the final stage as failed when it wrote to stderr.
	FailOnStderr bool
}

// String renders the pipeline for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Stages))
	for _, stage := range c.Stages {
		parts = append(parts, strings.Join(stage.Args, " "))
	}
	return strings.Join(parts, " && ")
}

func writeSource(source, fileName string, ws *workspace.Workspace) (string, error) {
	if ws == nil {
		return "", appErr.New(appErr.WorkspaceCreateFailed).WithMessage("workspace is required")
	}
	path := ws.Path(fileName)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", appErr.Wrapf(err, appErr.ExecutionSystemError, "write source file failed")
	}
	return path, nil
}

func expandTemplate(tpl, sourceFile string, ws *workspace.Workspace) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", shellQuote(filepath.Join(ws.Dir, sourceFile)))
	expanded = strings.ReplaceAll(expanded, "{dir}", shellQuote(ws.Dir))
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

// shellQuote keeps paths with spaces as a single shlex token.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
