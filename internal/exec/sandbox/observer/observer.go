// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records execution metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryKB int64)
	ObserveSession(ctx context.Context, languageID string, outcome string)
	ConnectionOpened()
	ConnectionClosed(reason string)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64)      {}
func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64, int64) {}
func (NoopMetricsRecorder) ObserveSession(context.Context, string, string)           {}
func (NoopMetricsRecorder) ConnectionOpened()                                        {}
func (NoopMetricsRecorder) ConnectionClosed(string)                                  {}
