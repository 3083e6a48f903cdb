package language

import (
	"academyjudge/internal/grader/workspace"
)

// Interpreted writes the source to one fixed file and hands it to an interpreter.
type Interpreted struct {
	id              string
	sourceFile      string
	runCmd          string
	stderrIsFailure bool
}

// NewInterpreted creates an interpreted runner. runCmd may reference {src} and {dir}.
func NewInterpreted(id, sourceFile, runCmd string) *Interpreted {
	return &Interpreted{id: id, sourceFile: sourceFile, runCmd: runCmd, stderrIsFailure: true}
}

func (r *Interpreted) ID() string { return r.id }

func (r *Interpreted) StderrIsFailure() bool { return r.stderrIsFailure }

func (r *Interpreted) Materialize(source string, ws *workspace.Workspace) (string, error) {
	return writeSource(source, r.sourceFile, ws)
}

func (r *Interpreted) BuildCommand(ws *workspace.Workspace) (Command, error) {
	args, err := expandTemplate(r.runCmd, r.sourceFile, ws)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Stages:       []Stage{{Name: StageRun, Args: args}},
		FailOnStderr: r.stderrIsFailure,
	}, nil
}
