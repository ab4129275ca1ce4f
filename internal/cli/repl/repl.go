package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"runbox/internal/cli/command"
	httpclient "runbox/internal/cli/http"
	"runbox/internal/execution/sandbox"

	"github.com/google/shlex"
)

const prompt = "runbox> "

// Session holds REPL state.
type Session struct {
	client       *httpclient.Client
	commands     map[string]command.Command
	prettyJSON   bool
	input        io.Reader
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, prettyJSON bool, in io.Reader, out io.Writer) *Session {
	return &Session{
		client:       client,
		commands:     commands,
		prettyJSON:   prettyJSON,
		input:        in,
		outputWriter: bufio.NewWriter(out),
	}
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) {
	reader := bufio.NewReader(s.input)
	for {
		_, _ = s.outputWriter.WriteString(prompt)
		_ = s.outputWriter.Flush()
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(line) == "") {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			} else {
				s.printLine("")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8090")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", parts[1])
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("timeout: %s", s.client.Timeout())
		s.printLine("prettyJSON: %t", s.prettyJSON)
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
	args, params := command.Split(tokens[1:])
	req, err := command.BuildRequest(cmd, args, params)
	if err != nil {
		return err
	}
	if req.Streaming {
		return s.client.Stream(ctx, req.Path, req.Headers, req.Body, s.renderFrame)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) renderFrame(data []byte) error {
	var frame sandbox.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.printLine("%s", string(data))
		return nil
	}
	switch frame.Type {
	case sandbox.FrameResult:
		out := frame.Result
		if out == nil {
			return nil
		}
		s.printLine("[%d/%d] exit=%d time=%dms mem=%dKB%s",
			frame.Index+1, frame.TotalCount, out.ExitCode, out.ElapsedMs, out.PeakMemoryKB, outcomeFlags(frame))
		if out.Stdout != "" {
			s.printLine("%s", strings.TrimRight(out.Stdout, "\n"))
		}
		if out.Stderr != "" {
			s.printLine("stderr: %s", strings.TrimRight(out.Stderr, "\n"))
		}
	case sandbox.FrameCompilationError:
		s.printLine("compilation error:")
		s.printLine("%s", strings.TrimRight(frame.Diagnostic, "\n"))
	case sandbox.FrameSessionError:
		s.printLine("session error: %s", frame.Message)
	case sandbox.FrameComplete:
		s.printLine("complete (%d tests)", frame.TotalCount)
	}
	return nil
}

func outcomeFlags(frame sandbox.Frame) string {
	out := frame.Result
	var flags []string
	if out.TimedOut {
		flags = append(flags, "timed out")
	}
	if out.MemoryExceeded {
		flags = append(flags, "memory exceeded")
	}
	if out.Truncated {
		flags = append(flags, "truncated")
	}
	if out.FailureReason != "" {
		flags = append(flags, out.FailureReason)
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}

func (s *Session) printHelp() {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	s.printLine("commands:")
	for _, name := range names {
		s.printLine("  %s", s.commands[name].Usage)
	}
	s.printLine("system: help | exit | set base|timeout | show config")
	s.printLine("examples:")
	s.printLine("  run python ./main.py ./1.in ./2.in time=1000")
	s.printLine("  stream cpp ./main.cpp stdin=\"1 2\"")
	s.printLine("  status 6f1c2d3e-...")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
