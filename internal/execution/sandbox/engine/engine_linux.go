//go:build linux

package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"runbox/internal/execution/sandbox/monitor"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// runTokenEnv marks every process started for one run so that members which
// detach from the tree can still be found.
const runTokenEnv = "RUNBOX_RUN_TOKEN"

var subreaperOnce sync.Once

// becomeSubreaper makes orphaned descendants reparent to this process
// instead of init, so they stay visible and reapable.
func becomeSubreaper() {
	subreaperOnce.Do(func() {
		if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
			logger.Warn(context.Background(), "set child subreaper failed", zap.Error(err))
		}
	})
}

type endKind int

const (
	endExited endKind = iota
	endTimedOut
	endMemoryExceeded
	endCancelled
)

// ending is the first terminal event observed for a run.
type ending struct {
	kind      endKind
	elapsedMs int64
}

type linuxEngine struct {
	cfg Config
	mon *monitor.Monitor
}

// NewEngine creates a supervisor that runs commands as direct children.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.ExitCodes.Validate(); err != nil {
		return nil, err
	}
	mon, err := monitor.New(monitor.Config{PollInterval: cfg.PollInterval, ProcRoot: cfg.ProcRoot})
	if err != nil {
		return nil, err
	}
	becomeSubreaper()
	return &linuxEngine{cfg: cfg, mon: mon}, nil
}

// Monitor exposes the sampler used by the engine.
func (e *linuxEngine) Monitor() *monitor.Monitor {
	return e.mon
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (out result.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "supervisor panic", zap.String("label", runSpec.Label), zap.Any("panic", r))
			out = recoverOutcome(r)
		}
	}()

	if err := validateRunSpec(runSpec); err != nil {
		return result.Failure(appErr.Reason(err))
	}
	if ctx.Err() != nil {
		return result.Failure(cancelledReason)
	}

	capt, err := newCapture(e.cfg.OutputMaxBytes)
	if err != nil {
		return result.Failure(appErr.Reason(err))
	}
	defer capt.close()

	stdin, err := openStdin(resolvePath(runSpec.Dir, runSpec.StdinPath))
	if err != nil {
		return result.Failure(appErr.Reason(err))
	}
	defer stdin.Close()

	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.Dir
	token := runTokenEnv + "=" + uuid.NewString()
	cmd.Env = append(slices.Clip(buildEnv(runSpec.Env)), token)
	cmd.Stdin = stdin
	cmd.Stdout = capt.stdout
	cmd.Stderr = capt.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.Failure(appErr.Reason(appErr.Wrapf(err, appErr.ProcessStartFailed, "start %s", runSpec.Cmd[0])))
	}
	pid := cmd.Process.Pid
	// taken before the waiter can reap the root
	tracker := e.mon.Track(pid, token)

	// both producers send at most once, so neither blocks
	endings := make(chan ending, 2)
	exited := make(chan struct{})
	watchCtx, stopWatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWatch()

	var peakKB atomic.Int64
	var g errgroup.Group
	g.Go(func() error {
		waitErr := cmd.Wait()
		close(exited)
		endings <- ending{kind: endExited, elapsedMs: time.Since(start).Milliseconds()}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			return appErr.Wrapf(waitErr, appErr.ProcessMonitorFailed, "wait %s", runSpec.Cmd[0])
		}
		return nil
	})
	g.Go(func() error {
		for s := range tracker.Watch(watchCtx, start, runSpec.Limits) {
			peakKB.Store(s.PeakMemoryKB)
			switch s.Breach {
			case monitor.BreachTime:
				endings <- ending{kind: endTimedOut, elapsedMs: s.ElapsedMs}
			case monitor.BreachMemory:
				endings <- ending{kind: endMemoryExceeded, elapsedMs: s.ElapsedMs}
			}
		}
		return nil
	})

	var end ending
	select {
	case end = <-endings:
	case <-ctx.Done():
		end = ending{kind: endCancelled, elapsedMs: time.Since(start).Milliseconds()}
	}
	stopWatch()

	// leftovers are removed even after a natural exit
	termErr := TerminateTree(tracker, e.cfg.GracePeriod, e.cfg.ConfirmTimeout)

	var waitErr error
	select {
	case <-exited:
		waitErr = g.Wait()
	case <-time.After(e.cfg.ConfirmTimeout):
		if termErr == nil {
			termErr = appErr.Newf(appErr.ProcessTerminationUnconfirmed, "process %d was not reaped", pid)
		}
	}

	stdout, stderr, truncated := capt.collect()
	out = result.Outcome{
		Stdout:       stdout,
		Stderr:       stderr,
		PeakMemoryKB: peakKB.Load(),
		ElapsedMs:    clampElapsed(end.elapsedMs, runSpec.Limits),
		Truncated:    truncated,
	}
	switch end.kind {
	case endExited:
		out.ExitCode = exitCode(cmd.ProcessState)
	case endTimedOut:
		out.TimedOut = true
		out.ExitCode = e.cfg.ExitCodes.Timeout
	case endMemoryExceeded:
		out.MemoryExceeded = true
		out.ExitCode = e.cfg.ExitCodes.Memory
	case endCancelled:
		out.ExitCode = result.ExitCodeFailure
		out.FailureReason = cancelledReason
	}

	failure := termErr
	if failure == nil {
		failure = waitErr
	}
	if failure != nil {
		logger.Error(ctx, "supervised run ended in failure",
			zap.String("label", runSpec.Label),
			zap.Int("pid", pid),
			zap.Error(failure),
		)
		out.TimedOut = false
		out.MemoryExceeded = false
		out.ExitCode = result.ExitCodeFailure
		out.FailureReason = appErr.Reason(failure)
		return out
	}

	if end.kind != endExited {
		logger.Info(ctx, "supervised run terminated",
			zap.String("label", runSpec.Label),
			zap.Int("pid", pid),
			zap.Bool("timedOut", out.TimedOut),
			zap.Bool("memoryExceeded", out.MemoryExceeded),
			zap.Int64("elapsedMs", out.ElapsedMs),
			zap.Int64("peakMemoryKb", out.PeakMemoryKB),
		)
	}
	return out
}

// exitCode reports the exit status, or 128+signal for a signalled process
// the way a shell would.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return result.ExitCodeFailure
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}
