// Package runner turns a language and source code into supervised commands.
package runner

import (
	"context"
	"strconv"
	"strings"

	"runbox/internal/execution/sandbox/engine"
	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/observer"
	"runbox/internal/execution/sandbox/profile"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	stdinFileName = "input.txt"
	defaultPath   = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// DefaultCompileLimits bound the one compile step of a session.
var DefaultCompileLimits = spec.ResourceLimit{TimeMs: 10000, MemoryKB: 1024 * 1024}

// File is one file to write into the workspace.
type File struct {
	Name    string
	Content []byte
}

// RunPlan is everything needed to run one test case.
type RunPlan struct {
	// Files must be written before the command starts.
	Files     []File
	Cmd       []string
	Env       []string
	StdinPath string
}

// Config controls the runner.
type Config struct {
	CompileLimits spec.ResourceLimit `yaml:"compileLimits"`
	// BaseEnv is prepended to every language environment.
	BaseEnv []string `yaml:"baseEnv"`
}

// Runner implements the compile and run workflow for every language.
type Runner struct {
	cfg     Config
	metrics observer.MetricsRecorder
}

// NewRunner creates a runner without metrics.
func NewRunner(cfg Config) *Runner {
	return NewRunnerWithObserver(cfg, observer.NoopMetricsRecorder{})
}

// NewRunnerWithObserver creates a runner with metrics hooks.
func NewRunnerWithObserver(cfg Config, metrics observer.MetricsRecorder) *Runner {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.CompileLimits.TimeMs <= 0 {
		cfg.CompileLimits.TimeMs = DefaultCompileLimits.TimeMs
	}
	if cfg.CompileLimits.MemoryKB <= 0 {
		cfg.CompileLimits.MemoryKB = DefaultCompileLimits.MemoryKB
	}
	if len(cfg.BaseEnv) == 0 {
		cfg.BaseEnv = []string{defaultPath}
	}
	return &Runner{cfg: cfg, metrics: metrics}
}

// CheckRegistry fails when a language asks for inline stdin the runner
// cannot produce.
func CheckRegistry(reg *profile.Registry) error {
	for _, lang := range reg.List() {
		if lang.StdinStrategy == profile.StdinInlineWrapper && !SupportsInlineStdin(lang.ID) {
			return appErr.ValidationError(lang.ID+".stdinStrategy", "no inline stdin injector for this language")
		}
	}
	return nil
}

// Compile runs the language's compile command once. Interpreted languages
// succeed trivially. The error is non-nil only when the compile step could
// not be carried out at all; a rejected program is a record with
// Succeeded=false.
func (r *Runner) Compile(ctx context.Context, sup engine.Engine, env environment.Environment, lang profile.LanguageSpec) (result.CompilationRecord, error) {
	if !lang.Compiled() {
		return result.CompilationRecord{Succeeded: true}, nil
	}
	cmd, err := buildCommand(lang.CompileCmdTpl, lang, env.Dir())
	if err != nil {
		return result.CompilationRecord{}, err
	}

	out := sup.Run(ctx, spec.RunSpec{
		Label:  "compile",
		Dir:    env.Dir(),
		Cmd:    cmd,
		Env:    r.buildEnv(lang, env.Dir()),
		Limits: r.cfg.CompileLimits,
	})
	if out.FailureReason != "" {
		r.metrics.ObserveCompile(ctx, lang.ID, false, out.ElapsedMs, out.PeakMemoryKB)
		return result.CompilationRecord{}, appErr.New(appErr.ExecutionSystemError).WithMessage("compile: " + out.FailureReason)
	}

	record := result.CompilationRecord{
		Succeeded:    out.Terminal() == result.TerminalExited && out.ExitCode == 0,
		ExitCode:     out.ExitCode,
		ElapsedMs:    out.ElapsedMs,
		PeakMemoryKB: out.PeakMemoryKB,
	}
	if !record.Succeeded {
		record.Diagnostic = compileDiagnostic(out)
	}
	r.metrics.ObserveCompile(ctx, lang.ID, record.Succeeded, record.ElapsedMs, record.PeakMemoryKB)
	logger.Info(ctx, "compile finished",
		zap.String("language", lang.ID),
		zap.Bool("ok", record.Succeeded),
		zap.Int64("elapsedMs", record.ElapsedMs),
	)
	return record, nil
}

func compileDiagnostic(out result.Outcome) string {
	var parts []string
	switch {
	case out.TimedOut:
		parts = append(parts, "compilation timed out")
	case out.MemoryExceeded:
		parts = append(parts, "compilation exceeded the memory limit")
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(out.Stdout); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "compilation failed with exit code " + strconv.Itoa(out.ExitCode)
	}
	return strings.Join(parts, "\n")
}

// PrepareRun plans one test case. Redirect languages get the stdin file;
// inline languages additionally get their source rewritten with the input
// embedded, so the source file must be rewritten before every test case.
func (r *Runner) PrepareRun(lang profile.LanguageSpec, dir, code string, stdin []byte) (RunPlan, error) {
	cmd, err := buildCommand(lang.RunCmdTpl, lang, dir)
	if err != nil {
		return RunPlan{}, err
	}
	plan := RunPlan{
		Files:     []File{{Name: stdinFileName, Content: stdin}},
		Cmd:       cmd,
		Env:       r.buildEnv(lang, dir),
		StdinPath: stdinFileName,
	}
	if lang.StdinStrategy == profile.StdinInlineWrapper {
		inject, ok := injectors[lang.ID]
		if !ok {
			return RunPlan{}, appErr.Newf(appErr.LanguageNotSupported, "language %s has no inline stdin injector", lang.ID)
		}
		name, source := PrepareSource(lang, code)
		plan.Files = append(plan.Files, File{Name: name, Content: []byte(inject(string(source), stdin))})
	}
	return plan, nil
}

// Run writes the plan's files and supervises the command. It always
// returns a complete outcome.
func (r *Runner) Run(ctx context.Context, sup engine.Engine, env environment.Environment, lang profile.LanguageSpec, label string, plan RunPlan, limits spec.ResourceLimit) result.Outcome {
	for _, f := range plan.Files {
		if err := env.WriteFile(ctx, f.Name, f.Content); err != nil {
			out := result.Failure(appErr.Reason(err))
			r.metrics.ObserveRun(ctx, lang.ID, string(out.Terminal()), 0, 0)
			return out
		}
	}
	out := sup.Run(ctx, spec.RunSpec{
		Label:     label,
		Dir:       env.Dir(),
		Cmd:       plan.Cmd,
		Env:       plan.Env,
		StdinPath: plan.StdinPath,
		Limits:    limits,
	})
	r.metrics.ObserveRun(ctx, lang.ID, string(out.Terminal()), out.ElapsedMs, out.PeakMemoryKB)
	return out
}

func (r *Runner) buildEnv(lang profile.LanguageSpec, dir string) []string {
	env := make([]string, 0, len(r.cfg.BaseEnv)+len(lang.Env))
	env = append(env, r.cfg.BaseEnv...)
	for _, kv := range lang.Env {
		env = append(env, expand(kv, lang, dir))
	}
	return env
}

// buildCommand splits the template first and substitutes placeholders per
// field, so paths with spaces stay one argument.
func buildCommand(tpl string, lang profile.LanguageSpec, dir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	for i, f := range fields {
		fields[i] = expand(f, lang, dir)
	}
	return fields, nil
}

func expand(s string, lang profile.LanguageSpec, dir string) string {
	return strings.NewReplacer(
		"{src}", lang.SourceFile,
		"{bin}", lang.BinaryFile,
		"{dir}", dir,
	).Replace(s)
}
