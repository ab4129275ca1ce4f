// Package sandbox drives execution sessions: one source program, compiled
// at most once, run against an ordered list of test cases.
package sandbox

import (
	"context"

	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
)

// Service is the high-level entrypoint used by the execution service.
type Service interface {
	Execute(ctx context.Context, req ExecuteRequest) result.Report
	Stream(ctx context.Context, req ExecuteRequest, sink FrameSink) result.Report
}

// Isolation selects how test cases share workspaces.
type Isolation string

const (
	// IsolationShared runs every test case in the session workspace.
	IsolationShared Isolation = "shared"
	// IsolationPerTest copies the prepared program into a fresh workspace
	// for each test case.
	IsolationPerTest Isolation = "per-test"
)

// ExecuteRequest contains all data needed to run one session.
// Test case count and limit ranges are checked by the caller.
type ExecuteRequest struct {
	// SessionID is generated when empty.
	SessionID string
	Language  string
	Code      string
	TestCases []spec.TestCase
	// ReceivedAt is a unix timestamp used for status updates.
	ReceivedAt int64
}
