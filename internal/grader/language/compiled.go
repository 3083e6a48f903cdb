package language

import (
	"academyjudge/internal/grader/workspace"
)

// Compiled writes the source under a fixed entry-point file name, compiles it, then runs it.
// Submissions must declare their entry point to match the file name (Main for Java).
type Compiled struct {
	id              string
	sourceFile      string
	compileCmd      string
	runCmd          string
	stderrIsFailure bool
}

// NewCompiled creates a two-stage runner.
func NewCompiled(id, sourceFile, compileCmd, runCmd string) *Compiled {
	return &Compiled{
		id:         id,
		sourceFile: sourceFile,
		compileCmd: compileCmd,
		runCmd:     runCmd,
	}
}

func (r *Compiled) ID() string { return r.id }

// StderrIsFailure defaults to false; stderr from a successful compile or run is kept as diagnostics.
func (r *Compiled) StderrIsFailure() bool { return r.stderrIsFailure }

func (r *Compiled) Materialize(source string, ws *workspace.Workspace) (string, error) {
	return writeSource(source, r.sourceFile, ws)
}

func (r *Compiled) BuildCommand(ws *workspace.Workspace) (Command, error) {
	compileArgs, err := expandTemplate(r.compileCmd, r.sourceFile, ws)
	if err != nil {
		return Command{}, err
	}
	runArgs, err := expandTemplate(r.runCmd, r.sourceFile, ws)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Stages: []Stage{
			{Name: StageCompile, Args: compileArgs},
			{Name: StageRun, Args: runArgs},
		},
		FailOnStderr: r.stderrIsFailure,
	}, nil
}
