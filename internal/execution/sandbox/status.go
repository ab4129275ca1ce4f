package sandbox

import (
	"context"

	"runbox/internal/execution/sandbox/result"
)

// StatusUpdate carries intermediate session progress.
type StatusUpdate struct {
	SessionID  string               `json:"sessionId"`
	Status     result.SessionStatus `json:"status"`
	Language   string               `json:"language"`
	TotalTests int                  `json:"totalTests"`
	DoneTests  int                  `json:"doneTests"`
	ReceivedAt int64                `json:"receivedAt"`
	FinishedAt int64                `json:"finishedAt,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// StatusReporter persists intermediate status updates.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}
