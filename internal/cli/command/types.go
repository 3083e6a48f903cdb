package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt64
)

// fileMarker stands in for a value that will be read from the field's file param.
const fileMarker = "_file_"

// Field defines a CLI input field.
type Field struct {
	Name    string
	Aliases []string
	Prompt  string
	Type    FieldType
	// JSONKey is the request body key. Default: Name
	JSONKey  string
	Required bool
	// FileParam names a param whose file content supplies this field.
	FileParam string
}

func (f Field) key() string {
	if f.JSONKey != "" {
		return f.JSONKey
	}
	return f.Name
}

// Command defines a CLI command binding.
type Command struct {
	Name   string
	Usage  string
	Method string
	Path   string
	// Stream commands send the body over a websocket instead of HTTP.
	Stream bool
	Fields []Field
}

// RequestSpec is the built request.
type RequestSpec struct {
	Method  string
	Path    string
	Stream  bool
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseParams splits key=value tokens.
func ParseParams(tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	return params, nil
}

// ApplyFileShortcuts marks fields whose file param is set so they are not prompted for.
func ApplyFileShortcuts(cmd Command, params Params) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.FileParam == "" || params.Get(field.FileParam) == "" {
			continue
		}
		if params.Get(field.Name) == "" {
			params.Set(field.Name, fileMarker)
		}
	}
}

// Missing returns required fields that still need a value.
func Missing(cmd Command, params Params) []Field {
	var missing []Field
	for _, field := range cmd.Fields {
		if field.Required && params.Get(field.Name) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func ParseInt64(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
