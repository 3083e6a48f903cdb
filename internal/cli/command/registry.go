package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

const submissionsPath = "/api/v1/submissions"

func codeField() Field {
	return Field{Name: "code", Aliases: []string{"source", "source_code"}, Prompt: "code", Type: FieldString, Required: true, FileParam: "source_file"}
}

func languageField() Field {
	return Field{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true}
}

func questionField() Field {
	return Field{Name: "question_id", Aliases: []string{"questionid", "qid"}, Prompt: "question_id", Type: FieldInt64, JSONKey: "questionId", Required: true}
}

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:   "run",
			Usage:  "run language=python source_file=./main.py input=\"1 2\"",
			Method: http.MethodPost,
			Path:   submissionsPath + "/run",
			Fields: []Field{
				languageField(),
				codeField(),
				{Name: "input", Aliases: []string{"stdin"}, Prompt: "input", Type: FieldString, FileParam: "input_file"},
			},
		},
		{
			Name:   "submit",
			Usage:  "submit question_id=1 language=python source_file=./main.py",
			Method: http.MethodPost,
			Path:   submissionsPath + "/submit",
			Fields: []Field{questionField(), languageField(), codeField()},
		},
		{
			Name:   "grade",
			Usage:  "grade question_id=1 language=java source_file=./Main.java",
			Method: http.MethodPost,
			Path:   submissionsPath + "/grade",
			Fields: []Field{questionField(), languageField(), codeField()},
		},
		{
			Name:   "stream",
			Usage:  "stream question_id=1 language=javascript source_file=./main.js",
			Method: http.MethodGet,
			Path:   submissionsPath + "/stream",
			Stream: true,
			Fields: []Field{questionField(), languageField(), codeField()},
		},
		{
			Name:   "languages",
			Usage:  "languages",
			Method: http.MethodGet,
			Path:   submissionsPath + "/languages",
		},
		{
			Name:   "health",
			Usage:  "health",
			Method: http.MethodGet,
			Path:   "/healthz",
		},
	}
	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns command names in sorted order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRequest resolves file params and encodes the request body.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	ApplyFileShortcuts(cmd, params)
	spec := RequestSpec{
		Method:  cmd.Method,
		Path:    cmd.Path,
		Stream:  cmd.Stream,
		Headers: map[string]string{},
	}
	if len(cmd.Fields) == 0 {
		return spec, nil
	}
	payload, err := buildPayload(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("encode request failed: %w", err)
	}
	spec.Body = body
	return spec, nil
}

func buildPayload(cmd Command, params Params) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(cmd.Fields))
	for _, field := range cmd.Fields {
		if !params.Has(field.Name) {
			if field.Required {
				return nil, fmt.Errorf("%s is required", field.Name)
			}
			continue
		}
		value := params.Get(field.Name)
		if value == fileMarker {
			data, err := ReadFile(params.Get(field.FileParam))
			if err != nil {
				return nil, err
			}
			value = data
		}
		if field.Required && value == "" {
			return nil, fmt.Errorf("%s is required", field.Name)
		}
		switch field.Type {
		case FieldInt64:
			n, err := ParseInt64(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.key()] = n
		default:
			payload[field.key()] = value
		}
	}
	return payload, nil
}
