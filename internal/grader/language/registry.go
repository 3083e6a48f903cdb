package language

import (
	"sort"
	"strings"

	appErr "academyjudge/pkg/errors"
)

const (
	KindInterpreted = "interpreted"
	KindCompiled    = "compiled"
)

// LanguageSpec describes a language loaded from configuration.
type LanguageSpec struct {
	ID              string `yaml:"id"`
	Kind            string `yaml:"kind"`
	SourceFile      string `yaml:"sourceFile"`
	CompileCmd      string `yaml:"compileCmd"`
	RunCmd          string `yaml:"runCmd"`
	StderrIsFailure *bool  `yaml:"stderrIsFailure"`
}

// Registry resolves language ids to runners.
type Registry struct {
	runners map[string]Runner
}

// NewRegistry creates a registry from runners. Later runners replace earlier ones with the same id.
func NewRegistry(runners ...Runner) *Registry {
	m := make(map[string]Runner, len(runners))
	for _, r := range runners {
		if r == nil || r.ID() == "" {
			continue
		}
		m[r.ID()] = r
	}
	return &Registry{runners: m}
}

// DefaultRegistry returns python, javascript and java.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewInterpreted("python", "solution.py", "python {src}"),
		NewInterpreted("javascript", "solution.js", "node {src}"),
		NewCompiled("java", "Main.java", "javac {src}", "java -cp {dir} Main"),
	)
}

// FromSpecs builds a registry from configured language specs.
func FromSpecs(specs []LanguageSpec) (*Registry, error) {
	runners := make([]Runner, 0, len(specs))
	for _, spec := range specs {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			return nil, appErr.ValidationError("languages.id", "required")
		}
		if strings.TrimSpace(spec.SourceFile) == "" {
			return nil, appErr.ValidationError("languages."+id+".sourceFile", "required")
		}
		if strings.TrimSpace(spec.RunCmd) == "" {
			return nil, appErr.ValidationError("languages."+id+".runCmd", "required")
		}
		switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
		case "", KindInterpreted:
			r := NewInterpreted(id, spec.SourceFile, spec.RunCmd)
			if spec.StderrIsFailure != nil {
				r.stderrIsFailure = *spec.StderrIsFailure
			}
			runners = append(runners, r)
		case KindCompiled:
			if strings.TrimSpace(spec.CompileCmd) == "" {
				return nil, appErr.ValidationError("languages."+id+".compileCmd", "required")
			}
			r := NewCompiled(id, spec.SourceFile, spec.CompileCmd, spec.RunCmd)
			if spec.StderrIsFailure != nil {
				r.stderrIsFailure = *spec.StderrIsFailure
			}
			runners = append(runners, r)
		default:
			return nil, appErr.ValidationError("languages."+id+".kind", "must be interpreted or compiled")
		}
	}
	return NewRegistry(runners...), nil
}

// Lookup returns the runner for id or a LanguageNotSupported error.
func (r *Registry) Lookup(id string) (Runner, error) {
	runner, ok := r.runners[id]
	if !ok {
		return nil, appErr.UnsupportedLanguage(id)
	}
	return runner, nil
}

// Supports reports whether id is registered.
func (r *Registry) Supports(id string) bool {
	_, ok := r.runners[id]
	return ok
}

// Languages returns the registered ids in sorted order.
func (r *Registry) Languages() []string {
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
