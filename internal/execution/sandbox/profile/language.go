// Package profile defines the per-language execution policy.
package profile

import (
	"strings"

	appErr "runbox/pkg/errors"
)

// Kind separates languages that need a build step from those run directly.
type Kind string

const (
	KindCompiled    Kind = "compiled"
	KindInterpreted Kind = "interpreted"
)

// StdinStrategy is how a test case's stdin reaches the program.
type StdinStrategy string

const (
	// StdinRedirect feeds the stdin file through the process standard input.
	StdinRedirect StdinStrategy = "none"
	// StdinInlineWrapper embeds the input in a preamble prepended to the source.
	StdinInlineWrapper StdinStrategy = "inline-wrapper"
)

// Wrapper names a source rewrite applied once before the source is written.
type Wrapper string

const (
	WrapperNone     Wrapper = ""
	WrapperJavaMain Wrapper = "java-main"
)

// LanguageSpec defines how to compile and run a language.
// Command templates understand {src}, {bin} and {dir}.
type LanguageSpec struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Version       string        `yaml:"version" json:"version,omitempty"`
	Aliases       []string      `yaml:"aliases" json:"aliases,omitempty"`
	Kind          Kind          `yaml:"kind" json:"kind"`
	SourceFile    string        `yaml:"sourceFile" json:"sourceFile"`
	BinaryFile    string        `yaml:"binaryFile" json:"-"`
	CompileCmdTpl string        `yaml:"compileCmd" json:"-"`
	RunCmdTpl     string        `yaml:"runCmd" json:"-"`
	StdinStrategy StdinStrategy `yaml:"stdinStrategy" json:"stdinStrategy"`
	Wrapper       Wrapper       `yaml:"wrapper" json:"-"`
	Env           []string      `yaml:"env" json:"-"`
}

// Compiled reports whether the language has a build step.
func (l LanguageSpec) Compiled() bool {
	return l.Kind == KindCompiled
}

// Validate checks the language definition is internally consistent.
func (l LanguageSpec) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return appErr.ValidationError("language.id", "required")
	}
	if strings.TrimSpace(l.SourceFile) == "" || strings.ContainsAny(l.SourceFile, "/\\") {
		return appErr.ValidationError(l.ID+".sourceFile", "must be a plain file name")
	}
	if strings.TrimSpace(l.RunCmdTpl) == "" {
		return appErr.ValidationError(l.ID+".runCmd", "required")
	}
	switch l.StdinStrategy {
	case StdinRedirect, StdinInlineWrapper:
	default:
		return appErr.ValidationError(l.ID+".stdinStrategy", "unknown strategy "+string(l.StdinStrategy))
	}
	switch l.Wrapper {
	case WrapperNone, WrapperJavaMain:
	default:
		return appErr.ValidationError(l.ID+".wrapper", "unknown wrapper "+string(l.Wrapper))
	}

	switch l.Kind {
	case KindCompiled:
		if strings.TrimSpace(l.CompileCmdTpl) == "" {
			return appErr.ValidationError(l.ID+".compileCmd", "required for compiled languages")
		}
		if l.StdinStrategy != StdinRedirect {
			return appErr.ValidationError(l.ID+".stdinStrategy", "compiled languages read stdin by redirection")
		}
	case KindInterpreted:
		if l.CompileCmdTpl != "" {
			return appErr.ValidationError(l.ID+".compileCmd", "interpreted languages have no build step")
		}
	default:
		return appErr.ValidationError(l.ID+".kind", "must be compiled or interpreted")
	}
	return nil
}

func (l LanguageSpec) clone() LanguageSpec {
	l.Aliases = append([]string(nil), l.Aliases...)
	l.Env = append([]string(nil), l.Env...)
	return l
}
