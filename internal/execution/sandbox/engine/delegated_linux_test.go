//go:build linux

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/monitorproto"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
)

// helperScript writes an executable that behaves like exec-monitor by
// re-entering this test binary in monitor mode.
func helperScript(t *testing.T) string {
	t.Helper()
	bin, err := filepath.Abs(os.Args[0])
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}
	path := filepath.Join(t.TempDir(), "exec-monitor")
	script := fmt.Sprintf("#!/bin/sh\nGO_WANT_HELPER_PROCESS=1 exec %q -test.run='^TestHelperProcess$' -- monitor \"$@\"\n", bin)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write helper script: %v", err)
	}
	return path
}

func newLocalEnv(t *testing.T) environment.Environment {
	t.Helper()
	p, err := environment.NewLocalProvider(environment.LocalConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	env, err := p.Create(context.Background(), "delegated")
	if err != nil {
		t.Fatalf("create environment: %v", err)
	}
	t.Cleanup(func() { _ = env.Destroy(context.Background()) })
	return env
}

func TestDelegatedWithRealHelper(t *testing.T) {
	helper := helperScript(t)
	tests := []struct {
		name  string
		cfg   Config
		rs    spec.RunSpec
		check func(t *testing.T, out result.Outcome)
	}{
		{
			name: "alternate timeout code",
			cfg:  Config{ExitCodes: monitorproto.AlternateExitCodes},
			rs:   spec.RunSpec{Cmd: []string{"sleep", "5"}, Limits: spec.ResourceLimit{TimeMs: 200}},
			check: func(t *testing.T, out result.Outcome) {
				if !out.TimedOut || out.ExitCode != 143 || out.FailureReason != "" {
					t.Fatalf("expected 143 timeout, got %+v", out)
				}
				if out.ElapsedMs != 200 {
					t.Fatalf("elapsed = %d, want clamped 200", out.ElapsedMs)
				}
			},
		},
		{
			name: "stdout without trailing newline",
			rs:   spec.RunSpec{Cmd: []string{"printf", "7"}, Limits: spec.ResourceLimit{TimeMs: 2000}},
			check: func(t *testing.T, out result.Outcome) {
				if out.Stdout != "7" || out.ExitCode != 0 {
					t.Fatalf("expected exact %q, got %+v", "7", out)
				}
			},
		},
		{
			name: "stdout of a single newline",
			rs:   spec.RunSpec{Cmd: []string{"printf", `\n`}, Limits: spec.ResourceLimit{TimeMs: 2000}},
			check: func(t *testing.T, out result.Outcome) {
				if out.Stdout != "\n" || out.ExitCode != 0 {
					t.Fatalf("expected a single newline, got %+v", out)
				}
			},
		},
		{
			name: "output above the cap",
			cfg:  Config{OutputMaxBytes: 1024},
			rs:   spec.RunSpec{Cmd: []string{"head", "-c", "5000", "/dev/zero"}, Limits: spec.ResourceLimit{TimeMs: 2000}},
			check: func(t *testing.T, out result.Outcome) {
				if out.FailureReason != "" {
					t.Fatalf("unexpected failure %+v", out.FailureReason)
				}
				if !out.Truncated || len(out.Stdout) != 1024 {
					t.Fatalf("expected 1024 truncated bytes, got %d truncated=%v", len(out.Stdout), out.Truncated)
				}
			},
		},
		{
			name: "inner exit code",
			rs:   spec.RunSpec{Cmd: []string{"sh", "-c", "echo err >&2; exit 3"}, Limits: spec.ResourceLimit{TimeMs: 2000}},
			check: func(t *testing.T, out result.Outcome) {
				if out.ExitCode != 3 || out.Stderr != "err\n" || out.Terminal() != result.TerminalExited {
					t.Fatalf("unexpected outcome %+v", out)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.MonitorHelper = helper
			out := NewDelegated(newLocalEnv(t), cfg).Run(context.Background(), tt.rs)
			tt.check(t, out)
		})
	}
}
