package sandbox

import "runbox/internal/execution/sandbox/result"

// FrameType tags a streamed message.
type FrameType string

const (
	FrameResult           FrameType = "result"
	FrameCompilationError FrameType = "compilation_error"
	FrameSessionError     FrameType = "session_error"
	FrameComplete         FrameType = "complete"
)

// Frame is one streamed message. A stream carries any number of result
// frames followed by exactly one terminal frame.
type Frame struct {
	Type       FrameType       `json:"type"`
	Index      int             `json:"index"`
	TotalCount int             `json:"totalCount"`
	Result     *result.Outcome `json:"result,omitempty"`
	// Diagnostic is set on compilation_error frames.
	Diagnostic string `json:"compilationError,omitempty"`
	// Message is set on session_error frames.
	Message string `json:"sessionError,omitempty"`
}

// Terminal reports whether f ends the stream.
func (f Frame) Terminal() bool {
	return f.Type != FrameResult
}

// FrameSink receives frames in order. It must not block for long; a slow
// sink delays the next test case.
type FrameSink func(Frame)

// terminalFrame derives the closing frame from a finished report.
func terminalFrame(report result.Report, total int) Frame {
	switch {
	case report.SessionError != "":
		return Frame{Type: FrameSessionError, TotalCount: total, Message: report.SessionError}
	case report.Compile != nil && !report.Compile.Succeeded:
		return Frame{Type: FrameCompilationError, TotalCount: total, Diagnostic: report.Compile.Diagnostic}
	default:
		return Frame{Type: FrameComplete, TotalCount: total}
	}
}
