package observer

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	ctx := context.Background()

	rec.SessionStarted(ctx, "python")
	rec.ObserveCompile(ctx, "c", false, 120, 2048)
	rec.ObserveRun(ctx, "python", "timed_out", 200, 9000)
	rec.ObserveRun(ctx, "python", "exited", 12, 8000)
	rec.SessionFinished(ctx, "python", "Complete")

	families := gather(t, reg)
	runs := families["runbox_run_total"]
	if runs == nil || len(runs.GetMetric()) != 2 {
		t.Fatalf("expected two run series, got %v", runs)
	}
	if got := families["runbox_sessions_active"].GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Fatalf("active sessions = %v", got)
	}
	hist := families["runbox_run_duration_ms"].GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 2 || hist.GetSampleSum() != 212 {
		t.Fatalf("unexpected histogram count=%d sum=%v", hist.GetSampleCount(), hist.GetSampleSum())
	}
	compile := families["runbox_compile_total"].GetMetric()[0]
	if compile.GetCounter().GetValue() != 1 {
		t.Fatalf("compile counter = %v", compile.GetCounter().GetValue())
	}
}

func TestNoopSatisfiesInterface(t *testing.T) {
	var rec MetricsRecorder = NoopMetricsRecorder{}
	rec.ObserveRun(context.Background(), "c", "exited", 1, 1)
}
