// Package result defines supervised execution outcomes and session states.
package result

// ExitCodeFailure is reported when the supervisor itself failed and no real
// exit status exists. It is outside the 0-255 range a process can produce.
const ExitCodeFailure = -1

// Terminal names the single state that ended a run.
type Terminal string

const (
	TerminalExited         Terminal = "exited"
	TerminalTimedOut       Terminal = "timed_out"
	TerminalMemoryExceeded Terminal = "memory_exceeded"
	TerminalFailed         Terminal = "failed"
)

// Outcome is the structured result of one supervised run. Stdout and
// Stderr hold the raw bytes the program wrote; see MarshalJSON for how
// output that is not valid UTF-8 is carried.
type Outcome struct {
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	ExitCode       int    `json:"exitCode"`
	PeakMemoryKB   int64  `json:"peakMemoryKb"`
	ElapsedMs      int64  `json:"elapsedMs"`
	TimedOut       bool   `json:"timedOut"`
	MemoryExceeded bool   `json:"memoryExceeded"`
	FailureReason  string `json:"failureReason,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
}

// Terminal reports which terminal state the outcome describes.
func (o Outcome) Terminal() Terminal {
	switch {
	case o.FailureReason != "":
		return TerminalFailed
	case o.TimedOut:
		return TerminalTimedOut
	case o.MemoryExceeded:
		return TerminalMemoryExceeded
	default:
		return TerminalExited
	}
}

// Failure builds an outcome for a run the supervisor could not carry out.
func Failure(reason string) Outcome {
	return Outcome{ExitCode: ExitCodeFailure, FailureReason: reason}
}

// CompilationRecord is produced at most once per session.
type CompilationRecord struct {
	Succeeded    bool   `json:"succeeded"`
	Diagnostic   string `json:"diagnostic,omitempty"`
	ExitCode     int    `json:"exitCode"`
	ElapsedMs    int64  `json:"elapsedMs"`
	PeakMemoryKB int64  `json:"peakMemoryKb"`
}

// SessionState tracks the orchestrator state machine.
type SessionState string

const (
	StateCreated          SessionState = "Created"
	StateSourceWritten    SessionState = "SourceWritten"
	StateCompileAttempted SessionState = "CompileAttempted"
	StateRunning          SessionState = "Running"
	StateComplete         SessionState = "Complete"
	StateFailed           SessionState = "Failed"
)

// SessionStatus is the externally visible lifecycle of a session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "Pending"
	StatusCompiling SessionStatus = "Compiling"
	StatusRunning   SessionStatus = "Running"
	StatusFinished  SessionStatus = "Finished"
	StatusFailed    SessionStatus = "Failed"
)

// Report is the batch answer for one session.
type Report struct {
	SessionID    string             `json:"sessionId"`
	Language     string             `json:"language"`
	State        SessionState       `json:"state"`
	Compile      *CompilationRecord `json:"compile,omitempty"`
	Outcomes     []Outcome          `json:"outcomes"`
	SessionError string             `json:"sessionError,omitempty"`
}
