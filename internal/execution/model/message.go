package model

import (
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
)

// ExecutionMessage is the Kafka payload for queued sessions.
type ExecutionMessage struct {
	SessionID  string          `json:"session_id"`
	Language   string          `json:"language"`
	Code       string          `json:"code"`
	TestCases  []spec.TestCase `json:"test_cases"`
	ReceivedAt int64           `json:"received_at"`
}

// SessionEventType tags a published session event.
type SessionEventType string

const SessionEventFinal SessionEventType = "final"

// SessionEvent is published once a queued session reaches Finished or Failed.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	Report    result.Report    `json:"report"`
	CreatedAt int64            `json:"created_at"`
}
