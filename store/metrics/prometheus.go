// Package metrics provides Prometheus metrics for memory store drivers.
package metrics

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/vecmem/store"
)

// Operation status labels.
const (
	StatusSuccess         = "success"
	StatusNotFound        = "not_found"
	StatusInvalidArgument = "invalid_argument"
	StatusCanceled        = "canceled"
	StatusError           = "error"
)

// PrometheusExporter exports store metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rowsYielded   *prometheus.CounterVec
	activeCursors prometheus.Gauge
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecmem",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	e.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecmem",
			Subsystem: "store",
			Name:      "operation_latency_seconds",
			Help:      "Store operation latency in seconds; for sequences, until the consumer stops",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	e.rowsYielded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecmem",
			Subsystem: "store",
			Name:      "rows_yielded_total",
			Help:      "Total number of elements yielded by store sequences",
		},
		[]string{"operation"},
	)

	e.activeCursors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vecmem",
			Subsystem: "store",
			Name:      "active_cursors",
			Help:      "Number of sequences currently being iterated",
		},
	)

	registry.MustRegister(
		e.requests,
		e.latency,
		e.rowsYielded,
		e.activeCursors,
	)

	return e
}

// RecordOperation records one finished operation.
func (e *PrometheusExporter) RecordOperation(operation string, latency time.Duration, err error) {
	e.requests.WithLabelValues(operation, Status(err)).Inc()
	e.latency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordRows adds n yielded elements to operation.
func (e *PrometheusExporter) RecordRows(operation string, n int) {
	e.rowsYielded.WithLabelValues(operation).Add(float64(n))
}

// Handler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

// Status maps an operation error to its status label.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, store.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, store.ErrInvalidArgument):
		return StatusInvalidArgument
	case store.IsCanceled(err):
		return StatusCanceled
	default:
		return StatusError
	}
}
