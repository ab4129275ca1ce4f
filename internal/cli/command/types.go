package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Command defines a CLI command binding.
type Command struct {
	Name         string
	Usage        string
	Method       string
	PathTemplate string
	// Streaming commands are sent over a websocket instead of plain HTTP.
	Streaming bool
	// Args names the positional arguments; trailing ones may repeat when
	// Variadic is set.
	Args     []string
	Variadic bool
	Build    func(cmd Command, args []string, params Params) (RequestSpec, error)
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method    string
	Path      string
	Headers   map[string]string
	Body      []byte
	Streaming bool
}

// Params holds parsed key=value options.
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

// Split separates positional arguments from key=value options. Tokens that
// name an existing file are always positional, so paths containing '=' work.
func Split(tokens []string) ([]string, Params) {
	args := make([]string, 0, len(tokens))
	params := Params{}
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" || fileExists(token) {
			args = append(args, token)
			continue
		}
		params.Set(key, value)
	}
	return args, params
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

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
