// Package monitorproto implements the command-line contract of the external
// monitor helper: monitor(timeLimitSeconds, memoryLimitKb, innerCommand).
//
// The helper writes the inner command's stdout, one separator newline, then
// two lines holding elapsed milliseconds and peak memory KB. It exits with the
// inner exit code or with the configured sentinel for a limit kill.
package monitorproto

import (
	"bytes"
	"strconv"
	"strings"

	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
)

// ExitCodeMapping fixes which helper exit codes mean a limit kill.
// The mapping is deployment configuration; DefaultExitCodes is 124/137.
type ExitCodeMapping struct {
	Timeout int `yaml:"timeout"`
	Memory  int `yaml:"memory"`
}

// DefaultExitCodes is the timeout(1)-style and cgroup OOM-style convention.
var DefaultExitCodes = ExitCodeMapping{Timeout: 124, Memory: 137}

// AlternateExitCodes is the SIGTERM/SIGABRT convention some helpers use.
var AlternateExitCodes = ExitCodeMapping{Timeout: 143, Memory: 134}

// WithDefaults fills unset codes from DefaultExitCodes.
func (m ExitCodeMapping) WithDefaults() ExitCodeMapping {
	if m.Timeout == 0 {
		m.Timeout = DefaultExitCodes.Timeout
	}
	if m.Memory == 0 {
		m.Memory = DefaultExitCodes.Memory
	}
	return m
}

// Validate rejects mappings where both reasons share one code.
func (m ExitCodeMapping) Validate() error {
	if m.Timeout == m.Memory {
		return appErr.ValidationError("exit_codes", "timeout and memory codes must differ")
	}
	return nil
}

// FormatSeconds renders a millisecond limit as the helper's seconds argument.
func FormatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
}

// ParseSeconds converts the helper's seconds argument back to milliseconds.
func ParseSeconds(raw string) (int64, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || seconds < 0 {
		return 0, appErr.ValidationError("time_limit_seconds", "must be a non-negative number")
	}
	return int64(seconds*1000 + 0.5), nil
}

// Flag names understood by the helper ahead of its positional arguments.
const (
	FlagTimeoutCode    = "timeout-code"
	FlagMemoryCode     = "memory-code"
	FlagOutputMaxBytes = "output-max-bytes"
)

// HelperFlags carries the caller's configuration to the helper so both sides
// agree on sentinels and output size.
type HelperFlags struct {
	ExitCodes ExitCodeMapping
	// OutputMaxBytes caps each captured stream inside the helper; 0 leaves
	// the helper default.
	OutputMaxBytes int64
}

// BuildCommand wraps inner with the helper invocation:
//
//	helper -timeout-code N -memory-code M [-output-max-bytes B] secs memKB inner...
func BuildCommand(helper string, flags HelperFlags, limits spec.ResourceLimit, inner []string) []string {
	codes := flags.ExitCodes.WithDefaults()
	cmd := make([]string, 0, len(inner)+9)
	cmd = append(cmd, helper,
		"-"+FlagTimeoutCode, strconv.Itoa(codes.Timeout),
		"-"+FlagMemoryCode, strconv.Itoa(codes.Memory),
	)
	if flags.OutputMaxBytes > 0 {
		cmd = append(cmd, "-"+FlagOutputMaxBytes, strconv.FormatInt(flags.OutputMaxBytes, 10))
	}
	cmd = append(cmd, FormatSeconds(limits.TimeMs), strconv.FormatInt(limits.MemoryKB, 10))
	return append(cmd, inner...)
}

// Trailer is the measurement block the helper appends to stdout.
type Trailer struct {
	ElapsedMs    int64
	PeakMemoryKB int64
}

// Encode renders the trailer written after program output. It always starts
// with one separator newline so program output is recovered byte for byte.
func (t Trailer) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(t.ElapsedMs, 10))
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(t.PeakMemoryKB, 10))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// SplitTrailer pops the separator and the two measurement lines off stdout
// and returns the program output exactly as the program wrote it.
func SplitTrailer(stdout []byte) ([]byte, Trailer, error) {
	missing := appErr.New(appErr.ProcessMonitorFailed).WithMessage("monitor output is missing measurement lines")
	body := bytes.TrimSuffix(stdout, []byte("\n"))
	memIdx := bytes.LastIndexByte(body, '\n')
	if memIdx < 0 {
		return stdout, Trailer{}, missing
	}
	memLine := body[memIdx+1:]
	body = body[:memIdx]

	elapsedIdx := bytes.LastIndexByte(body, '\n')
	if elapsedIdx < 0 {
		return stdout, Trailer{}, missing
	}
	elapsedLine := body[elapsedIdx+1:]
	program := body[:elapsedIdx]

	elapsed, err := strconv.ParseInt(strings.TrimSpace(string(elapsedLine)), 10, 64)
	if err != nil {
		return stdout, Trailer{}, appErr.Wrapf(err, appErr.ProcessMonitorFailed, "parse monitor elapsed line")
	}
	peak, err := strconv.ParseInt(strings.TrimSpace(string(memLine)), 10, 64)
	if err != nil {
		return stdout, Trailer{}, appErr.Wrapf(err, appErr.ProcessMonitorFailed, "parse monitor memory line")
	}
	return program, Trailer{ElapsedMs: elapsed, PeakMemoryKB: peak}, nil
}

// ParseOutput turns one helper invocation into an Outcome.
func ParseOutput(stdout, stderr []byte, exitCode int, limits spec.ResourceLimit, mapping ExitCodeMapping) result.Outcome {
	mapping = mapping.WithDefaults()
	program, trailer, err := SplitTrailer(stdout)
	if err != nil {
		out := result.Failure(appErr.Reason(err))
		out.Stdout = string(stdout)
		out.Stderr = string(stderr)
		return out
	}

	out := result.Outcome{
		Stdout:       string(program),
		Stderr:       string(stderr),
		ExitCode:     exitCode,
		ElapsedMs:    trailer.ElapsedMs,
		PeakMemoryKB: trailer.PeakMemoryKB,
	}
	switch exitCode {
	case mapping.Timeout:
		out.TimedOut = true
	case mapping.Memory:
		out.MemoryExceeded = true
	}
	if limits.TimeMs > 0 && out.ElapsedMs > limits.TimeMs {
		out.ElapsedMs = limits.TimeMs
	}
	return out
}
