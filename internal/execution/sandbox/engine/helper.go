package engine

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"runbox/internal/execution/sandbox/monitorproto"
	"runbox/internal/execution/sandbox/spec"
)

// ExitHelperFailure mirrors timeout(1) when the monitor itself fails.
const ExitHelperFailure = 125

const helperUsage = "usage: exec-monitor [-timeout-code N] [-memory-code N] [-output-max-bytes B] <time-limit-seconds> <memory-limit-kb> <command> [args...]"

type helperInvocation struct {
	limits         spec.ResourceLimit
	exitCodes      monitorproto.ExitCodeMapping
	outputMaxBytes int64
	cmd            []string
}

func parseHelperArgs(args []string) (helperInvocation, error) {
	fs := flag.NewFlagSet("exec-monitor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	timeoutCode := fs.Int(monitorproto.FlagTimeoutCode, monitorproto.DefaultExitCodes.Timeout, "exit code reported on a time limit kill")
	memoryCode := fs.Int(monitorproto.FlagMemoryCode, monitorproto.DefaultExitCodes.Memory, "exit code reported on a memory limit kill")
	outputMax := fs.Int64(monitorproto.FlagOutputMaxBytes, 0, "bytes kept per output stream")
	if err := fs.Parse(args); err != nil {
		return helperInvocation{}, err
	}
	exitCodes := monitorproto.ExitCodeMapping{Timeout: *timeoutCode, Memory: *memoryCode}
	if err := exitCodes.Validate(); err != nil {
		return helperInvocation{}, err
	}
	if *outputMax < 0 {
		return helperInvocation{}, fmt.Errorf("output cap must be non-negative: %d", *outputMax)
	}

	args = fs.Args()
	if len(args) < 3 {
		return helperInvocation{}, errors.New(helperUsage)
	}
	timeMs, err := monitorproto.ParseSeconds(args[0])
	if err != nil {
		return helperInvocation{}, err
	}
	memKB, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || memKB < 0 {
		return helperInvocation{}, fmt.Errorf("memory limit must be a non-negative integer: %q", args[1])
	}
	return helperInvocation{
		limits:         spec.ResourceLimit{TimeMs: timeMs, MemoryKB: memKB},
		exitCodes:      exitCodes,
		outputMaxBytes: *outputMax,
		cmd:            args[2:],
	}, nil
}

func (inv helperInvocation) runSpec(dir string) spec.RunSpec {
	return spec.RunSpec{
		Label:     "monitor",
		Dir:       dir,
		Cmd:       inv.cmd,
		Env:       os.Environ(),
		StdinPath: "/dev/stdin",
		Limits:    inv.limits,
	}
}

// RunHelper is the body of the exec-monitor command. It supervises the
// command named by args, writes its stdout followed by the measurement
// trailer, then its stderr, and returns the process exit code.
func RunHelper(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	inv, err := parseHelperArgs(args)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "exec-monitor:", err)
		return ExitHelperFailure
	}

	eng, err := NewEngine(Config{OutputMaxBytes: inv.outputMaxBytes, ExitCodes: inv.exitCodes})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "exec-monitor:", err)
		return ExitHelperFailure
	}

	dir, _ := os.Getwd()
	out := eng.Run(ctx, inv.runSpec(dir))

	_, _ = io.WriteString(stdout, out.Stdout)
	trailer := monitorproto.Trailer{ElapsedMs: out.ElapsedMs, PeakMemoryKB: out.PeakMemoryKB}
	_, _ = stdout.Write(trailer.Encode())
	_, _ = io.WriteString(stderr, out.Stderr)

	if out.FailureReason != "" {
		_, _ = fmt.Fprintln(stderr, "exec-monitor:", out.FailureReason)
		return ExitHelperFailure
	}
	return out.ExitCode
}
