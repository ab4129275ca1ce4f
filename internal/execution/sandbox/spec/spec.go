// Package spec defines the execution specification and resource limits.
package spec

import "time"

// ResourceLimit describes the ceilings enforced on one supervised run.
// A zero value disables that ceiling.
type ResourceLimit struct {
	TimeMs   int64 `json:"timeLimitMs" yaml:"timeMs"`
	MemoryKB int64 `json:"memoryLimitKb" yaml:"memoryKb"`
}

// Deadline returns the time ceiling as a duration.
func (l ResourceLimit) Deadline() time.Duration {
	if l.TimeMs <= 0 {
		return 0
	}
	return time.Duration(l.TimeMs) * time.Millisecond
}

// TimeExceeded reports whether elapsed has reached the time ceiling.
// Reaching the ceiling exactly counts as a breach.
func (l ResourceLimit) TimeExceeded(elapsedMs int64) bool {
	return l.TimeMs > 0 && elapsedMs >= l.TimeMs
}

// MemoryExceeded reports whether a sample is above the memory ceiling.
// A sample equal to the ceiling is allowed.
func (l ResourceLimit) MemoryExceeded(memoryKB int64) bool {
	return l.MemoryKB > 0 && memoryKB > l.MemoryKB
}

// TestCase is one requested run: the bytes fed to stdin plus its limits.
type TestCase struct {
	Stdin         []byte `json:"stdin"`
	TimeLimitMs   int64  `json:"timeLimitMs"`
	MemoryLimitKB int64  `json:"memoryLimitKb"`
}

// Limits returns the test case ceilings.
func (tc TestCase) Limits() ResourceLimit {
	return ResourceLimit{TimeMs: tc.TimeLimitMs, MemoryKB: tc.MemoryLimitKB}
}

// RunSpec is the unified execution specification for one supervised command.
type RunSpec struct {
	// Label identifies the run in logs, e.g. "compile" or "test-3".
	Label string
	// Dir is the working directory. Relative paths below are resolved against it.
	Dir string
	Cmd []string
	Env []string
	// StdinPath is read as the process standard input. Empty means no input.
	StdinPath string
	Limits    ResourceLimit
}
