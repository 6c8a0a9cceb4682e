package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation durations and stage transitions
// in Prometheus form. Batch cycles do not live long enough to be scraped, so
// the registry is written to a node exporter textfile after each cycle.
type PrometheusMetricsRecorder struct {
	registry    *prometheus.Registry
	durations   *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewPrometheusMetricsRecorder builds a recorder with its own registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	r := &PrometheusMetricsRecorder{
		registry: prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runmgr",
			Name:      "operation_duration_seconds",
			Help:      "Duration of run manager operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"operation", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runmgr",
			Name:      "stage_transitions_total",
			Help:      "Stage transitions recorded, by stage and resulting code.",
		}, []string{"stage", "code"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "runmgr",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful completion of each operation.",
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.durations, r.transitions, r.lastSuccess)
	return r
}

// Registry returns the registry the metrics are registered in.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := string(AuditStatusSuccess)
	if !success {
		status = string(AuditStatusError)
	}
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
	if success {
		r.lastSuccess.WithLabelValues(operation).SetToCurrentTime()
	}
}

// Record implements AuditRecorder; only successful transitions are counted.
func (r *PrometheusMetricsRecorder) Record(_ context.Context, entry AuditEntry) {
	if entry.Status != AuditStatusSuccess {
		return
	}
	r.transitions.WithLabelValues(string(entry.Stage), string(entry.To)).Inc()
}

// WriteTextfile atomically writes the current metrics to path in the text
// exposition format.
func (r *PrometheusMetricsRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
