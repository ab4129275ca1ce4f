//go:build linux

package monitor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"runbox/internal/execution/sandbox/spec"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(Config{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("create monitor: %v", err)
	}
	return m
}

func startGroup(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %q: %v", script, err)
	}
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
	})
	return cmd
}

func TestSampleSelf(t *testing.T) {
	m := newTestMonitor(t)
	if got := m.Sample(os.Getpid()); got <= 0 {
		t.Fatalf("expected positive rss for own process, got %d", got)
	}
}

func TestSampleExitedProcess(t *testing.T) {
	m := newTestMonitor(t)
	cmd := exec.Command("/bin/true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	if got := m.Sample(cmd.Process.Pid); got != 0 {
		t.Fatalf("expected 0 for reaped process, got %d", got)
	}
	if got := m.Sample(0); got != 0 {
		t.Fatalf("expected 0 for pid 0, got %d", got)
	}
}

func TestTreeIncludesDescendants(t *testing.T) {
	m := newTestMonitor(t)
	cmd := startGroup(t, "sleep 5 & sleep 5 & wait")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Tree(cmd.Process.Pid)) >= 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected shell plus two sleeps, got %v", m.Tree(cmd.Process.Pid))
}

func TestTreeFollowsProcessGroupAfterParentExit(t *testing.T) {
	m := newTestMonitor(t)
	cmd := startGroup(t, "sleep 5 &")
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait shell: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Tree(cmd.Process.Pid)) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected orphaned sleep in the group, got %v", m.Tree(cmd.Process.Pid))
}

func TestWatchStopsOnTimeBreach(t *testing.T) {
	m := newTestMonitor(t)
	start := time.Now()
	cmd := startGroup(t, "sleep 5")

	var last Sample
	for s := range m.Watch(context.Background(), cmd.Process.Pid, start, spec.ResourceLimit{TimeMs: 100}) {
		last = s
	}
	if last.Breach != BreachTime {
		t.Fatalf("expected time breach, got %+v", last)
	}
	if last.ElapsedMs < 100 || last.ElapsedMs > 1000 {
		t.Fatalf("unexpected elapsed %d", last.ElapsedMs)
	}
	if last.PeakMemoryKB <= 0 {
		t.Fatalf("expected peak memory to be captured, got %d", last.PeakMemoryKB)
	}
}

func TestWatchStopsOnMemoryBreach(t *testing.T) {
	m := newTestMonitor(t)
	start := time.Now()
	cmd := startGroup(t, "sleep 5")

	var last Sample
	for s := range m.Watch(context.Background(), cmd.Process.Pid, start, spec.ResourceLimit{TimeMs: 5000, MemoryKB: 1}) {
		last = s
	}
	if last.Breach != BreachMemory {
		t.Fatalf("expected memory breach, got %+v", last)
	}
	if last.MemoryKB <= 1 {
		t.Fatalf("expected sample above limit, got %d", last.MemoryKB)
	}
}

func TestWatchEndsWhenTreeExits(t *testing.T) {
	m := newTestMonitor(t)
	start := time.Now()
	cmd := startGroup(t, "exit 0")

	done := make(chan Sample, 1)
	go func() {
		var last Sample
		for s := range m.Watch(context.Background(), cmd.Process.Pid, start, spec.ResourceLimit{TimeMs: 5000}) {
			last = s
		}
		done <- last
	}()

	select {
	case last := <-done:
		if last.Alive || last.Breach != BreachNone {
			t.Fatalf("expected clean end, got %+v", last)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop after the process exited")
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	m := newTestMonitor(t)
	cmd := startGroup(t, "sleep 5")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := 0
	for s := range m.Watch(ctx, cmd.Process.Pid, time.Now(), spec.ResourceLimit{}) {
		count++
		if s.Breach != BreachNone {
			t.Fatalf("no limits set, got breach %+v", s)
		}
		if count == 3 {
			cancel()
		}
	}
	if count != 3 {
		t.Fatalf("expected watch to stop after cancel, got %d samples", count)
	}
}

func TestTrackerFindsDetachedDescendantByToken(t *testing.T) {
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid not available")
	}
	m := newTestMonitor(t)
	pidFile := filepath.Join(t.TempDir(), "pid")
	token := "RUNBOX_RUN_TOKEN=detached-" + strconv.Itoa(os.Getpid())

	cmd := exec.Command("/bin/sh", "-c", "sleep 0.1; setsid sleep 5 >/dev/null 2>&1 & echo $! > "+pidFile)
	cmd.Env = append(os.Environ(), token)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start shell: %v", err)
	}
	tracker := m.Track(cmd.Process.Pid, token)
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait shell: %v", err)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	detached, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse pid %q: %v", raw, err)
	}
	t.Cleanup(func() { _ = syscall.Kill(detached, syscall.SIGKILL) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		live, _ := tracker.Refresh()
		if slices.Contains(pids(live), detached) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("detached pid %d not tracked", detached)
}

func TestTrackerIgnoresReusedRootPid(t *testing.T) {
	m := newTestMonitor(t)
	cmd := startGroup(t, "exec sleep 5")
	tracker := m.Track(cmd.Process.Pid, "")
	if live, _ := tracker.Refresh(); len(live) == 0 {
		t.Fatal("expected the running root to be tracked")
	}

	// simulate the pid now belonging to a different process
	tracker.mu.Lock()
	tracker.rootStart++
	tracker.mu.Unlock()

	if live, _ := tracker.Refresh(); len(live) != 0 {
		t.Fatalf("expected no members for a reused pid, got %v", pids(live))
	}
}
