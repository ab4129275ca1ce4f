// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, elapsedMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, languageID string, terminal string, elapsedMs int64, memoryKB int64)
	SessionStarted(ctx context.Context, languageID string)
	SessionFinished(ctx context.Context, languageID string, state string)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64, int64) {}
func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64, int64)   {}
func (NoopMetricsRecorder) SessionStarted(context.Context, string)                      {}
func (NoopMetricsRecorder) SessionFinished(context.Context, string, string)             {}
