package observer

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// PrometheusRecorder implements MetricsRecorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	compileTotal    *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runMemory       *prometheus.HistogramVec
	sessionTotal    *prometheus.CounterVec
	activeConns     prometheus.Gauge
	closedConns     *prometheus.CounterVec
	hostCPU         prometheus.Gauge
	hostMemory      prometheus.Gauge
}

// NewPrometheusRecorder registers judgebox collectors plus the Go and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		compileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judgebox_compile_total",
			Help: "Compilations by language and outcome",
		}, []string{"language", "ok"}),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judgebox_compile_duration_seconds",
			Help:    "Compilation wall time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judgebox_run_total",
			Help: "Judged runs by language and verdict",
		}, []string{"language", "verdict"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judgebox_run_duration_seconds",
			Help:    "Judged run wall time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"language"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judgebox_run_memory_kilobytes",
			Help:    "Peak resident memory of judged runs",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 10),
		}, []string{"language"}),
		sessionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judgebox_session_runs_total",
			Help: "Interactive runs by language and terminal state",
		}, []string{"language", "outcome"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judgebox_ws_connections_active",
			Help: "Open interactive connections",
		}),
		closedConns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judgebox_ws_connections_closed_total",
			Help: "Closed interactive connections by reason",
		}, []string{"reason"}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judgebox_host_cpu_usage_percent",
			Help: "Host CPU usage percentage",
		}),
		hostMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judgebox_host_memory_used_bytes",
			Help: "Host used memory in bytes",
		}),
	}
	reg.MustRegister(
		r.compileTotal, r.compileDuration,
		r.runTotal, r.runDuration, r.runMemory,
		r.sessionTotal, r.activeConns, r.closedConns,
		r.hostCPU, r.hostMemory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *PrometheusRecorder) ObserveCompile(_ context.Context, languageID string, ok bool, timeMs int64) {
	r.compileTotal.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	r.compileDuration.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
}

func (r *PrometheusRecorder) ObserveRun(_ context.Context, languageID string, verdict string, timeMs int64, memoryKB int64) {
	r.runTotal.WithLabelValues(languageID, verdict).Inc()
	r.runDuration.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
	if memoryKB > 0 {
		r.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB))
	}
}

func (r *PrometheusRecorder) ObserveSession(_ context.Context, languageID string, outcome string) {
	r.sessionTotal.WithLabelValues(languageID, outcome).Inc()
}

func (r *PrometheusRecorder) ConnectionOpened() {
	r.activeConns.Inc()
}

func (r *PrometheusRecorder) ConnectionClosed(reason string) {
	r.activeConns.Dec()
	r.closedConns.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// CollectHost samples host CPU and memory until ctx is done.
func (r *PrometheusRecorder) CollectHost(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
			r.hostCPU.Set(pct[0])
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			r.hostMemory.Set(float64(vm.Used))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
