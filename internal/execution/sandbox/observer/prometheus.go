package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports sandbox metrics through client_golang.
type PrometheusRecorder struct {
	compileTotal   *prometheus.CounterVec
	runTotal       *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runMemory      *prometheus.HistogramVec
	sessionsActive prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the sandbox collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		compileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbox_compile_total",
				Help: "Total number of compilations",
			},
			[]string{"language", "ok"},
		),
		runTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbox_run_total",
				Help: "Total number of supervised test case runs",
			},
			[]string{"language", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runbox_run_duration_ms",
				Help:    "Wall-clock duration of test case runs in milliseconds",
				Buckets: []float64{5, 20, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"language"},
		),
		runMemory: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runbox_run_memory_kb",
				Help:    "Peak resident memory of test case runs in KB",
				Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144, 524288},
			},
			[]string{"language"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "runbox_sessions_active",
				Help: "Number of execution sessions in progress",
			},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runbox_sessions_total",
				Help: "Total number of finished execution sessions",
			},
			[]string{"language", "state"},
		),
	}
}

func (p *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, elapsedMs int64, memoryKB int64) {
	p.compileTotal.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
}

func (p *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, terminal string, elapsedMs int64, memoryKB int64) {
	p.runTotal.WithLabelValues(languageID, terminal).Inc()
	p.runDuration.WithLabelValues(languageID).Observe(float64(elapsedMs))
	p.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB))
}

func (p *PrometheusRecorder) SessionStarted(ctx context.Context, languageID string) {
	p.sessionsActive.Inc()
}

func (p *PrometheusRecorder) SessionFinished(ctx context.Context, languageID string, state string) {
	p.sessionsActive.Dec()
	p.sessionsTotal.WithLabelValues(languageID, state).Inc()
}
