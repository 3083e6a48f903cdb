package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"academyjudge/internal/cli/command"
	httpclient "academyjudge/internal/cli/http"
	"academyjudge/internal/grader/model"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const Prompt = "grader> "

// LineReader is the subset of *readline.Instance used by the session.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	reader     LineReader
	out        io.Writer
	prettyJSON bool
}

func New(client *httpclient.Client, commands map[string]command.Command, reader LineReader, out io.Writer, prettyJSON bool) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		reader:     reader,
		out:        out,
		prettyJSON: prettyJSON,
	}
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.reader.SetPrompt(Prompt)
		line, err := s.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		handled, exit := s.handleSystemCommand(line)
		if exit {
			s.printLine("bye")
			return nil
		}
		if handled {
			continue
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) (handled, exit bool) {
	name, args, _ := strings.Cut(line, " ")
	switch name {
	case "exit", "quit":
		return true, true
	case "help":
		s.printHelp()
	case "set":
		s.handleSet(strings.TrimSpace(args))
	case "show":
		s.handleShow(strings.TrimSpace(args))
	default:
		return false, false
	}
	return true, false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|pretty")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:5000")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", s.client.BaseURL())
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 30s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", parts[1])
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "pretty":
		if len(parts) < 2 || (parts[1] != "on" && parts[1] != "off") {
			s.printLine("usage: set pretty on|off")
			return
		}
		s.prettyJSON = parts[1] == "on"
		s.printLine("pretty set to %s", parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("timeout: %s", s.client.Timeout())
		s.printLine("pretty: %v", s.prettyJSON)
	default:
		s.printLine("usage: show config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
	params, err := command.ParseParams(tokens[1:])
	if err != nil {
		return err
	}

	command.ApplyFileShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	if req.Stream {
		return s.client.Stream(ctx, req.Path, req.Body, s.renderFrame)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	defer s.reader.SetPrompt(Prompt)
	for _, field := range command.Missing(cmd, params) {
		s.reader.SetPrompt(field.Prompt + ": ")
		value, err := s.reader.Readline()
		if err != nil {
			return fmt.Errorf("read %s failed: %w", field.Name, err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	s.printJSON(resp.Body)
}

func (s *Session) printJSON(body []byte) {
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(body))
}

type streamFrame struct {
	Type    string                `json:"type"`
	Index   int                   `json:"index"`
	Total   int                   `json:"total"`
	Result  *model.TestCaseResult `json:"result"`
	Outcome json.RawMessage       `json:"outcome"`
	Code    int                   `json:"code"`
	Message string                `json:"message"`
}

func (s *Session) renderFrame(data []byte) bool {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.printLine("%s", string(data))
		return false
	}
	switch frame.Type {
	case "result":
		if frame.Result == nil {
			return false
		}
		status := "FAIL"
		if frame.Result.Passed {
			status = "PASS"
		}
		s.printLine("[%d/%d] test %d %s", frame.Index+1, frame.Total, frame.Result.TestCaseID, status)
		if frame.Result.Error != nil {
			s.printLine("  error: %s", *frame.Result.Error)
		}
		return false
	case "done":
		if len(frame.Outcome) > 0 {
			s.printJSON(frame.Outcome)
		}
		return true
	case "error":
		s.printLine("error %d: %s", frame.Code, frame.Message)
		return true
	default:
		s.printLine("%s", string(data))
		return false
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <command> key=value ...")
	s.printLine("system: help | exit | set base|timeout|pretty | show config")
	s.printLine("commands:")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %s", s.commands[name].Usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
