package model

// TestCaseInput is one test case as submitted over HTTP.
// Zero limits take the configured defaults.
type TestCaseInput struct {
	Stdin         string `json:"stdin"`
	TimeLimitMs   int64  `json:"timeLimitMs"`
	MemoryLimitKb int64  `json:"memoryLimitKb"`
}

// ExecuteRequest is the body of the execution endpoints.
type ExecuteRequest struct {
	Language  string          `json:"language" binding:"required"`
	Code      string          `json:"code" binding:"required"`
	TestCases []TestCaseInput `json:"testCases"`
}

// SubmitResponse acknowledges a queued session.
type SubmitResponse struct {
	SessionID string         `json:"sessionId"`
	Status    StatusResponse `json:"status"`
}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Compiled bool     `json:"compiled"`
	Aliases  []string `json:"aliases,omitempty"`
}
