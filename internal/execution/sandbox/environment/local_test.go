package environment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	appErr "runbox/pkg/errors"
)

func newTestEnv(t *testing.T) Environment {
	t.Helper()
	p, err := NewLocalProvider(LocalConfig{Root: t.TempDir(), MaxOutputBytes: 64})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	env, err := p.Create(context.Background(), "sess/../1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = env.Destroy(context.Background()) })
	return env
}

func TestCreateIsolatesSessions(t *testing.T) {
	p, err := NewLocalProvider(LocalConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	a, err := p.Create(context.Background(), "same")
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Create(context.Background(), "same")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() || a.Dir() == b.Dir() {
		t.Fatalf("environments must be distinct: %s %s", a.Dir(), b.Dir())
	}
	if strings.Contains(filepath.Base(a.Dir()), "/") {
		t.Fatalf("unexpected dir %s", a.Dir())
	}
}

func TestCreateCancelled(t *testing.T) {
	p, err := NewLocalProvider(LocalConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Create(ctx, "x"); !appErr.Is(err, appErr.ExecutionCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestWriteFileAndRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.WriteFile(ctx, "src/main.sh", []byte("echo hello; echo warn >&2; exit 4\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := env.RunCommand(ctx, []string{"/bin/sh", "src/main.sh"}, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(res.Stdout) != "hello\n" || string(res.Stderr) != "warn\n" || res.ExitCode != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"../evil", "/etc/passwd", ""} {
		if err := env.WriteFile(context.Background(), name, []byte("x")); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
		if _, err := env.ReadFile(context.Background(), name); err == nil {
			t.Fatalf("expected read of %q to be rejected", name)
		}
	}
}

func TestReadFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.WriteFile(ctx, "bin/main", []byte{0x7f, 'E', 'L', 'F'}); err != nil {
		t.Fatal(err)
	}
	data, err := env.ReadFile(ctx, "bin/main")
	if err != nil || string(data) != "\x7fELF" {
		t.Fatalf("ReadFile() = %q, %v", data, err)
	}
	if _, err := env.ReadFile(ctx, "missing"); !appErr.Is(err, appErr.EnvironmentIOFailed) {
		t.Fatalf("expected io failure, got %v", err)
	}
}

func TestRunCommandCapsOutput(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.RunCommand(context.Background(), []string{"/bin/sh", "-c", "head -c 1000 /dev/zero"}, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stdout) != 64 {
		t.Fatalf("expected output capped at 64 bytes, got %d", len(res.Stdout))
	}
}

func TestRunCommandCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := env.RunCommand(ctx, []string{"/bin/sh", "-c", "sleep 10 & wait"}, RunOptions{})
	if !appErr.Is(err, appErr.ExecutionCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if time.Since(begin) > 3*time.Second {
		t.Fatal("cancellation did not stop the command")
	}
}

func TestRunCommandCancelLetsCommandCleanUp(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("graceful cancel needs process groups")
	}
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := env.RunCommand(ctx, []string{"/bin/sh", "-c", `trap 'echo stopped; exit 0' TERM; sleep 10 & wait`}, RunOptions{})
	if !appErr.Is(err, appErr.ExecutionCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if !strings.Contains(string(res.Stdout), "stopped") {
		t.Fatalf("expected the TERM handler to run, stdout %q", res.Stdout)
	}
}

func TestRunCommandMissingBinary(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.RunCommand(context.Background(), []string{"/nonexistent/tool"}, RunOptions{})
	if !appErr.Is(err, appErr.ProcessStartFailed) {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.WriteFile(ctx, "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := env.Destroy(ctx); err != nil {
		t.Fatalf("first destroy: %v", err)
	}
	if err := env.Destroy(ctx); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if _, err := os.Stat(env.Dir()); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
}
