//go:build linux

package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"runbox/internal/execution/sandbox/monitorproto"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"

	"github.com/prometheus/procfs"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	switch args[1] {
	case "monitor":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code := RunHelper(ctx, args[2:], os.Stdout, os.Stderr)
		stop()
		os.Exit(code)
	case "alloc":
		buf := make([]byte, 128<<20)
		for i := 0; i < len(buf); i += 4096 {
			buf[i] = 1
		}
		time.Sleep(10 * time.Second)
		fmt.Println(buf[0])
	}
	os.Exit(0)
}

func helperSpec(mode string, limits spec.ResourceLimit) spec.RunSpec {
	return spec.RunSpec{
		Label:  mode,
		Cmd:    []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode},
		Env:    []string{"GO_WANT_HELPER_PROCESS=1", defaultPath},
		Limits: limits,
	}
}

func shellSpec(dir, script string, limits spec.ResourceLimit) spec.RunSpec {
	return spec.RunSpec{
		Label:  "sh",
		Dir:    dir,
		Cmd:    []string{"/bin/sh", "-c", script},
		Limits: limits,
	}
}

func newTestEngine(t *testing.T, cfg Config) Engine {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 100 * time.Millisecond
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return eng
}

// alive reports whether pid exists and is not a zombie.
func alive(t *testing.T, pid int) bool {
	t.Helper()
	p, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	st, err := p.Stat()
	if err != nil {
		return false
	}
	return st.State != "Z" && st.State != "X"
}

func readPids(t *testing.T, path string) []int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	var pids []int
	for _, field := range strings.Fields(string(data)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			t.Fatalf("parse pid %q: %v", field, err)
		}
		pids = append(pids, pid)
	}
	return pids
}

func TestRunNormalExit(t *testing.T) {
	eng := newTestEngine(t, Config{})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "input.txt"), []byte("3\n4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rs := shellSpec(dir, `read a; read b; echo $((a+b)); echo oops >&2; exit 3`, spec.ResourceLimit{TimeMs: 5000, MemoryKB: 512 * 1024})
	rs.StdinPath = "input.txt"

	out := eng.Run(context.Background(), rs)
	if out.Terminal() != result.TerminalExited {
		t.Fatalf("expected exited, got %+v", out)
	}
	if out.Stdout != "7\n" || out.Stderr != "oops\n" || out.ExitCode != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.ElapsedMs < 0 || out.ElapsedMs > 5000 {
		t.Fatalf("elapsed out of range: %d", out.ElapsedMs)
	}
}

func TestRunEmptyStdin(t *testing.T) {
	eng := newTestEngine(t, Config{})
	out := eng.Run(context.Background(), shellSpec(t.TempDir(), `cat; echo done`, spec.ResourceLimit{TimeMs: 2000}))
	if out.Stdout != "done\n" || out.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunTimeout(t *testing.T) {
	eng := newTestEngine(t, Config{})
	begin := time.Now()
	out := eng.Run(context.Background(), shellSpec(t.TempDir(), `sleep 10`, spec.ResourceLimit{TimeMs: 200}))
	took := time.Since(begin)

	if !out.TimedOut || out.MemoryExceeded || out.FailureReason != "" {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if out.ExitCode != 124 {
		t.Fatalf("exit code = %d, want 124", out.ExitCode)
	}
	if out.ElapsedMs != 200 {
		t.Fatalf("elapsed should be clamped to the limit, got %d", out.ElapsedMs)
	}
	if took > 2*time.Second {
		t.Fatalf("run took %v", took)
	}
}

func TestRunTimeoutIgnoringSigterm(t *testing.T) {
	eng := newTestEngine(t, Config{})
	begin := time.Now()
	out := eng.Run(context.Background(), shellSpec(t.TempDir(), `trap "" TERM; while :; do :; done`, spec.ResourceLimit{TimeMs: 200}))
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if took := time.Since(begin); took > 3*time.Second {
		t.Fatalf("forced kill took %v", took)
	}
}

func TestRunCustomExitCodes(t *testing.T) {
	eng := newTestEngine(t, Config{ExitCodes: monitorproto.AlternateExitCodes})
	out := eng.Run(context.Background(), shellSpec(t.TempDir(), `sleep 10`, spec.ResourceLimit{TimeMs: 100}))
	if !out.TimedOut || out.ExitCode != 143 {
		t.Fatalf("expected 143 timeout, got %+v", out)
	}
}

func TestRunMemoryExceeded(t *testing.T) {
	eng := newTestEngine(t, Config{})
	out := eng.Run(context.Background(), helperSpec("alloc", spec.ResourceLimit{TimeMs: 8000, MemoryKB: 32 * 1024}))
	if !out.MemoryExceeded || out.TimedOut || out.FailureReason != "" {
		t.Fatalf("expected memory exceeded, got %+v", out)
	}
	if out.ExitCode != 137 {
		t.Fatalf("exit code = %d, want 137", out.ExitCode)
	}
	if out.PeakMemoryKB <= 32*1024 {
		t.Fatalf("peak %d should be above the limit", out.PeakMemoryKB)
	}
}

func TestRunKillsForkedTree(t *testing.T) {
	eng := newTestEngine(t, Config{})
	dir := t.TempDir()
	script := `sleep 30 & echo $! > pids; sleep 30 & echo $! >> pids; wait`
	out := eng.Run(context.Background(), shellSpec(dir, script, spec.ResourceLimit{TimeMs: 300}))
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	for _, pid := range readPids(t, filepath.Join(dir, "pids")) {
		if alive(t, pid) {
			t.Fatalf("descendant %d survived", pid)
		}
	}
}

func TestRunKillsOrphansAfterNaturalExit(t *testing.T) {
	eng := newTestEngine(t, Config{})
	dir := t.TempDir()
	script := `sleep 30 > /dev/null 2>&1 & echo $! > pids; exit 0`
	out := eng.Run(context.Background(), shellSpec(dir, script, spec.ResourceLimit{TimeMs: 5000}))
	if out.Terminal() != result.TerminalExited || out.ExitCode != 0 {
		t.Fatalf("expected clean exit, got %+v", out)
	}
	for _, pid := range readPids(t, filepath.Join(dir, "pids")) {
		if alive(t, pid) {
			t.Fatalf("orphan %d survived", pid)
		}
	}
}

func TestRunKillsDetachedDescendants(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not available")
	}
	tests := []struct {
		name   string
		script string
	}{
		{
			name:   "new session then root exits",
			script: `setsid sleep 31 >/dev/null 2>&1 & echo $! > pids; sleep 0.1; exit 0`,
		},
		{
			name:   "intermediate parent exits at once",
			script: `sh -c 'setsid sleep 31 >/dev/null 2>&1 & echo $! > pids'; exit 0`,
		},
		{
			name:   "detached while timing out",
			script: `setsid sleep 31 >/dev/null 2>&1 & echo $! > pids; sleep 10`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, Config{})
			dir := t.TempDir()
			out := eng.Run(context.Background(), shellSpec(dir, tt.script, spec.ResourceLimit{TimeMs: 500}))
			if out.FailureReason != "" {
				t.Fatalf("unexpected failure %+v", out)
			}
			for _, pid := range readPids(t, filepath.Join(dir, "pids")) {
				if alive(t, pid) {
					_ = syscall.Kill(pid, syscall.SIGKILL)
					t.Fatalf("detached descendant %d survived", pid)
				}
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	out := eng.Run(ctx, shellSpec(t.TempDir(), `sleep 10`, spec.ResourceLimit{TimeMs: 5000}))
	if out.Terminal() != result.TerminalFailed || out.FailureReason != cancelledReason {
		t.Fatalf("expected cancellation failure, got %+v", out)
	}
	if out.ExitCode != result.ExitCodeFailure {
		t.Fatalf("exit code = %d", out.ExitCode)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	eng := newTestEngine(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := eng.Run(ctx, shellSpec(t.TempDir(), `echo hi`, spec.ResourceLimit{}))
	if out.FailureReason != cancelledReason || out.Stdout != "" {
		t.Fatalf("expected no run, got %+v", out)
	}
}

func TestRunStartFailure(t *testing.T) {
	eng := newTestEngine(t, Config{})
	out := eng.Run(context.Background(), spec.RunSpec{Cmd: []string{"/nonexistent/runbox-binary"}})
	if out.Terminal() != result.TerminalFailed {
		t.Fatalf("expected failure, got %+v", out)
	}
	if !strings.Contains(out.FailureReason, "runbox-binary") {
		t.Fatalf("reason should name the command: %q", out.FailureReason)
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	eng := newTestEngine(t, Config{})
	out := eng.Run(context.Background(), spec.RunSpec{})
	if out.Terminal() != result.TerminalFailed || out.ExitCode != result.ExitCodeFailure {
		t.Fatalf("expected failure, got %+v", out)
	}
}

func TestRunSignalledExitCode(t *testing.T) {
	eng := newTestEngine(t, Config{})
	out := eng.Run(context.Background(), shellSpec(t.TempDir(), `kill -SEGV $$`, spec.ResourceLimit{TimeMs: 2000}))
	if out.ExitCode != 139 || out.Terminal() != result.TerminalExited {
		t.Fatalf("expected 139, got %+v", out)
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	eng := newTestEngine(t, Config{OutputMaxBytes: 1024})
	out := eng.Run(context.Background(), shellSpec(t.TempDir(), `head -c 5000 /dev/zero | tr '\0' a`, spec.ResourceLimit{TimeMs: 2000}))
	if !out.Truncated || len(out.Stdout) != 1024 {
		t.Fatalf("expected 1024 truncated bytes, got %d truncated=%v", len(out.Stdout), out.Truncated)
	}
}
