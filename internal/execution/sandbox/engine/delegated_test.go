package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/monitorproto"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
)

type scriptedEnv struct {
	gotCmd  []string
	gotOpts environment.RunOptions
	res     environment.CommandResult
	err     error
	panics  bool
}

func (e *scriptedEnv) ID() string  { return "env-1" }
func (e *scriptedEnv) Dir() string { return "/workspace" }
func (e *scriptedEnv) WriteFile(ctx context.Context, name string, data []byte) error {
	return nil
}
func (e *scriptedEnv) ReadFile(ctx context.Context, name string) ([]byte, error) {
	return nil, nil
}
func (e *scriptedEnv) RunCommand(ctx context.Context, cmd []string, opts environment.RunOptions) (environment.CommandResult, error) {
	if e.panics {
		panic("boom")
	}
	e.gotCmd = cmd
	e.gotOpts = opts
	return e.res, e.err
}
func (e *scriptedEnv) Destroy(ctx context.Context) error { return nil }

func TestWrapCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		rs   spec.RunSpec
		want []string
	}{
		{
			name: "no stdin",
			rs:   spec.RunSpec{Cmd: []string{"./main"}, Limits: spec.ResourceLimit{TimeMs: 2000, MemoryKB: 65536}},
			want: []string{"exec-monitor", "-timeout-code", "124", "-memory-code", "137", "-output-max-bytes", "65536",
				"2", "65536", "./main"},
		},
		{
			name: "stdin redirected",
			rs:   spec.RunSpec{Cmd: []string{"python3", "main.py"}, StdinPath: "input.txt", Limits: spec.ResourceLimit{TimeMs: 1500, MemoryKB: 1024}},
			want: []string{"exec-monitor", "-timeout-code", "124", "-memory-code", "137", "-output-max-bytes", "65536",
				"1.5", "1024", "sh", "-c", stdinRedirect, "input.txt", "python3", "main.py"},
		},
		{
			name: "alternate codes and cap",
			cfg:  Config{MonitorHelper: "/opt/monitor", ExitCodes: monitorproto.AlternateExitCodes, OutputMaxBytes: 1024},
			rs:   spec.RunSpec{Cmd: []string{"./main"}, Limits: spec.ResourceLimit{TimeMs: 200}},
			want: []string{"/opt/monitor", "-timeout-code", "143", "-memory-code", "134", "-output-max-bytes", "1024",
				"0.2", "0", "./main"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WrapCommand(tt.cfg, tt.rs); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("WrapCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDelegatedParsesHelperOutput(t *testing.T) {
	env := &scriptedEnv{res: environment.CommandResult{Stdout: []byte("7\n\n12\n2048\n"), ExitCode: 0}}
	eng := NewDelegated(env, Config{})

	out := eng.Run(context.Background(), spec.RunSpec{Cmd: []string{"./main"}, Limits: spec.ResourceLimit{TimeMs: 1000}})
	if out.Stdout != "7\n" || out.ElapsedMs != 12 || out.PeakMemoryKB != 2048 || out.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if env.gotCmd[0] != "exec-monitor" {
		t.Fatalf("helper not used: %q", env.gotCmd)
	}
	if env.gotOpts.MaxOutputBytes <= defaultOutputMaxBytes {
		t.Fatalf("collection cap must leave room for the trailer, got %d", env.gotOpts.MaxOutputBytes)
	}
}

func TestDelegatedMapsSentinels(t *testing.T) {
	tests := []struct {
		code     int
		terminal result.Terminal
	}{
		{124, result.TerminalTimedOut},
		{137, result.TerminalMemoryExceeded},
		{1, result.TerminalExited},
	}
	for _, tt := range tests {
		env := &scriptedEnv{res: environment.CommandResult{Stdout: []byte("\n1000\n10\n"), ExitCode: tt.code}}
		out := NewDelegated(env, Config{}).Run(context.Background(), spec.RunSpec{Cmd: []string{"x"}, Limits: spec.ResourceLimit{TimeMs: 1000}})
		if out.Terminal() != tt.terminal || out.ExitCode != tt.code {
			t.Fatalf("code %d: got %+v", tt.code, out)
		}
	}
}

func TestDelegatedEnvironmentError(t *testing.T) {
	env := &scriptedEnv{err: errors.New("container gone")}
	out := NewDelegated(env, Config{}).Run(context.Background(), spec.RunSpec{Cmd: []string{"x"}})
	if out.Terminal() != result.TerminalFailed || out.FailureReason != "container gone" {
		t.Fatalf("expected failure, got %+v", out)
	}
}

func TestDelegatedRecoversPanic(t *testing.T) {
	env := &scriptedEnv{panics: true}
	out := NewDelegated(env, Config{}).Run(context.Background(), spec.RunSpec{Cmd: []string{"x"}})
	if out.Terminal() != result.TerminalFailed || out.ExitCode != result.ExitCodeFailure {
		t.Fatalf("expected failure, got %+v", out)
	}
}

func TestClampElapsed(t *testing.T) {
	limits := spec.ResourceLimit{TimeMs: 100}
	if got := clampElapsed(250, limits); got != 100 {
		t.Fatalf("clampElapsed(250) = %d", got)
	}
	if got := clampElapsed(40, limits); got != 40 {
		t.Fatalf("clampElapsed(40) = %d", got)
	}
	if got := clampElapsed(250, spec.ResourceLimit{}); got != 250 {
		t.Fatalf("unlimited clamp = %d", got)
	}
}
