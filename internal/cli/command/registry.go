package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"runbox/internal/execution/model"
)

const (
	headerSessionID      = "X-Session-Id"
	headerIdempotencyKey = "Idempotency-Key"
)

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:         "run",
			Usage:        "run <lang> <file> [stdin-file...] [time=ms] [mem=kb] [stdin=text] [session=id]",
			Method:       "POST",
			PathTemplate: "/api/v1/executions",
			Args:         []string{"lang", "file", "stdin-file"},
			Variadic:     true,
			Build:        buildExecute,
		},
		{
			Name:         "stream",
			Usage:        "stream <lang> <file> [stdin-file...] [time=ms] [mem=kb] [stdin=text] [session=id]",
			Method:       "GET",
			PathTemplate: "/api/v1/executions/stream",
			Streaming:    true,
			Args:         []string{"lang", "file", "stdin-file"},
			Variadic:     true,
			Build:        buildExecute,
		},
		{
			Name:         "async",
			Usage:        "async <lang> <file> [stdin-file...] [time=ms] [mem=kb] [stdin=text] [session=id] [key=idempotency-key]",
			Method:       "POST",
			PathTemplate: "/api/v1/executions/async",
			Args:         []string{"lang", "file", "stdin-file"},
			Variadic:     true,
			Build:        buildExecute,
		},
		{
			Name:         "status",
			Usage:        "status <session-id>",
			Method:       "GET",
			PathTemplate: "/api/v1/executions/:id",
			Args:         []string{"id"},
			Build:        buildPath,
		},
		{
			Name:         "languages",
			Usage:        "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
			Build:        buildPath,
		},
	}
	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// BuildRequest checks arity and builds the request for cmd.
func BuildRequest(cmd Command, args []string, params Params) (RequestSpec, error) {
	required := len(cmd.Args)
	if cmd.Variadic {
		required--
	}
	if len(args) < required || (!cmd.Variadic && len(args) > required) {
		return RequestSpec{}, fmt.Errorf("usage: %s", cmd.Usage)
	}
	spec, err := cmd.Build(cmd, args, params)
	if err != nil {
		return RequestSpec{}, err
	}
	spec.Streaming = cmd.Streaming
	return spec, nil
}

func buildPath(cmd Command, args []string, _ Params) (RequestSpec, error) {
	path := cmd.PathTemplate
	for i, name := range cmd.Args {
		if i >= len(args) {
			break
		}
		path = strings.ReplaceAll(path, ":"+name, url.PathEscape(args[i]))
	}
	return RequestSpec{Method: cmd.Method, Path: path}, nil
}

// buildExecute reads the source file and one test case per stdin file. With
// no stdin files a single test case is sent, fed from stdin= when given.
func buildExecute(cmd Command, args []string, params Params) (RequestSpec, error) {
	code, err := ReadFile(args[1])
	if err != nil {
		return RequestSpec{}, err
	}
	var timeLimit, memLimit int64
	if params.Has("time") {
		if timeLimit, err = ParseInt64(params.Get("time")); err != nil {
			return RequestSpec{}, fmt.Errorf("invalid time: %w", err)
		}
	}
	if params.Has("mem") {
		if memLimit, err = ParseInt64(params.Get("mem")); err != nil {
			return RequestSpec{}, fmt.Errorf("invalid mem: %w", err)
		}
	}

	stdins := make([]string, 0, len(args)-2)
	for _, path := range args[2:] {
		content, err := ReadFile(path)
		if err != nil {
			return RequestSpec{}, err
		}
		stdins = append(stdins, content)
	}
	if len(stdins) == 0 {
		stdins = append(stdins, params.Get("stdin"))
	}

	req := model.ExecuteRequest{
		Language:  args[0],
		Code:      code,
		TestCases: make([]model.TestCaseInput, 0, len(stdins)),
	}
	for _, stdin := range stdins {
		req.TestCases = append(req.TestCases, model.TestCaseInput{
			Stdin:         stdin,
			TimeLimitMs:   timeLimit,
			MemoryLimitKb: memLimit,
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("encode request failed: %w", err)
	}
	headers := map[string]string{}
	if v := params.Get("session"); v != "" {
		headers[headerSessionID] = v
	}
	if v := params.Get("key"); v != "" {
		headers[headerIdempotencyKey] = v
	}
	return RequestSpec{
		Method:  cmd.Method,
		Path:    cmd.PathTemplate,
		Headers: headers,
		Body:    body,
	}, nil
}
