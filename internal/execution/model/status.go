package model

import "runbox/internal/execution/sandbox/result"

// Progress tracks completed test cases.
type Progress struct {
	TotalTests int `json:"totalTests"`
	DoneTests  int `json:"doneTests"`
}

// Timestamps are unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"receivedAt"`
	FinishedAt int64 `json:"finishedAt,omitempty"`
}

// StatusResponse is the stored and served view of a session.
type StatusResponse struct {
	SessionID  string               `json:"sessionId"`
	Status     result.SessionStatus `json:"status"`
	Language   string               `json:"language,omitempty"`
	Progress   Progress             `json:"progress"`
	Timestamps Timestamps           `json:"timestamps"`
	Error      string               `json:"error,omitempty"`
	// Report is attached once the session is finished.
	Report *result.Report `json:"report,omitempty"`
}

// Done reports whether the session reached a final status.
func (s StatusResponse) Done() bool {
	return s.Status == result.StatusFinished || s.Status == result.StatusFailed
}
