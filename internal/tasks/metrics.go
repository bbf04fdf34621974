package tasks

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the task runtime's Prometheus instrumentation. A nil
// *Metrics is valid and records nothing, so tests and single-shot CLI runs
// skip the registry entirely.
type Metrics struct {
	registry  *prometheus.Registry
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	queueLen  prometheus.Gauge
}

// NewMetrics builds and registers the runtime's collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brain",
		Subsystem: "tasks",
		Name:      "processed_total",
		Help:      "Tasks completed successfully, by type.",
	}, []string{"type"})
	m.failed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brain",
		Subsystem: "tasks",
		Name:      "failed_total",
		Help:      "Tasks that ended in a failed status, by type.",
	}, []string{"type"})
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brain",
		Subsystem: "tasks",
		Name:      "duration_seconds",
		Help:      "Wall-clock task duration, by type.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"type"})
	m.queueLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "brain",
		Subsystem: "tasks",
		Name:      "queue_pending",
		Help:      "Jobs waiting on the pending queue.",
	})
	m.registry.MustRegister(m.processed, m.failed, m.duration, m.queueLen)
	return m
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(taskType Type, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	label := string(taskType)
	if failed {
		m.failed.WithLabelValues(label).Inc()
	} else {
		m.processed.WithLabelValues(label).Inc()
	}
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// SetQueueLen records the current pending-queue depth.
func (m *Metrics) SetQueueLen(n int) {
	if m == nil {
		return
	}
	m.queueLen.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
