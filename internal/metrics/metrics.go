// Package metrics holds the Prometheus collectors of the scan bot. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scanbot"

// Metrics groups the collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	scanBytes      prometheus.Histogram
	recompressions prometheus.Counter
	filesDeleted   prometheus.Counter
	sweepErrors    prometheus.Counter
	requests       *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans attempted, by result.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Time from scan request to saved file.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		}),
		scanBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_file_bytes",
			Help:      "Size of delivered scan files.",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 12),
		}),
		recompressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompressions_total",
			Help:      "Scans recompressed for exceeding the size limit.",
		}),
		filesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_files_deleted_total",
			Help:      "Files removed by the retention sweeper.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_errors_total",
			Help:      "Retention sweeps that hit an error.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound chat requests, by command and authorization.",
		}, []string{"command", "authorized"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scans,
		m.scanDuration,
		m.scanBytes,
		m.recompressions,
		m.filesDeleted,
		m.sweepErrors,
		m.requests,
	)
	return m
}

// ObserveScan records a finished scan attempt.
func (m *Metrics) ObserveScan(err error, took time.Duration, size int64, recompressed bool) {
	if m == nil {
		return
	}
	if err != nil {
		m.scans.WithLabelValues("error").Inc()
		return
	}
	m.scans.WithLabelValues("ok").Inc()
	m.scanDuration.Observe(took.Seconds())
	m.scanBytes.Observe(float64(size))
	if recompressed {
		m.recompressions.Inc()
	}
}

// ObserveSweep records one retention sweep.
func (m *Metrics) ObserveSweep(deleted int, err error) {
	if m == nil {
		return
	}
	m.filesDeleted.Add(float64(deleted))
	if err != nil {
		m.sweepErrors.Inc()
	}
}

// ObserveRequest records an inbound chat request.
func (m *Metrics) ObserveRequest(command string, authorized bool) {
	if m == nil {
		return
	}
	label := "false"
	if authorized {
		label = "true"
	}
	m.requests.WithLabelValues(command, label).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
