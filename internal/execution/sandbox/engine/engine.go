// Package engine supervises one command under wall-clock and memory ceilings.
package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
)

// Engine runs a RunSpec to completion. Run never returns an error: every
// problem, including its own, is folded into the Outcome.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) result.Outcome
}

// Func adapts a function to Engine.
type Func func(ctx context.Context, runSpec spec.RunSpec) result.Outcome

// Run calls f.
func (f Func) Run(ctx context.Context, runSpec spec.RunSpec) result.Outcome {
	return f(ctx, runSpec)
}

const cancelledReason = "execution cancelled"

func validateRunSpec(runSpec spec.RunSpec) error {
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return appErr.ValidationError("cmd", "command is required")
	}
	if runSpec.Limits.TimeMs < 0 || runSpec.Limits.MemoryKB < 0 {
		return appErr.ValidationError("limits", "must not be negative")
	}
	return nil
}

func recoverOutcome(r any) result.Outcome {
	return result.Failure(fmt.Sprintf("supervisor panic: %v", r))
}

func clampElapsed(elapsedMs int64, limits spec.ResourceLimit) int64 {
	if elapsedMs < 0 {
		return 0
	}
	if limits.TimeMs > 0 && elapsedMs > limits.TimeMs {
		return limits.TimeMs
	}
	return elapsedMs
}

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{defaultPath}
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
