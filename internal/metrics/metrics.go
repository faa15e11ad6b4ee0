// Package metrics exposes pipeline counters on a private Prometheus registry.
//
// Every method is safe on a nil *Pipeline so components can run without
// metrics in tests and in the one-shot CLI.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segment outcome labels.
const (
	OutcomeExtracted = "extracted"
	OutcomeReused    = "reused"
	OutcomeFailed    = "failed"
)

// Pipeline holds the clip pipeline metrics.
type Pipeline struct {
	registry           *prometheus.Registry
	workflowRuns       *prometheus.CounterVec
	segments           *prometheus.CounterVec
	segmentDuration    prometheus.Histogram
	transcodeFallbacks prometheus.Counter
	storageRetries     *prometheus.CounterVec
	cleanupFailures    prometheus.Counter
}

// New creates and registers the pipeline metrics.
func New() *Pipeline {
	registry := prometheus.NewRegistry()

	workflowRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipstitch_workflow_runs_total",
		Help: "Clip workflow runs by terminal status",
	}, []string{"status"})
	segments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipstitch_segments_total",
		Help: "Segment compositions by outcome",
	}, []string{"outcome"})
	segmentDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipstitch_segment_duration_seconds",
		Help:    "Wall time spent composing one segment",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	transcodeFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipstitch_transcode_fallbacks_total",
		Help: "Extractions that fell back from re-encode to stream copy",
	})
	storageRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipstitch_storage_retries_total",
		Help: "Object storage operations retried after throttling",
	}, []string{"op"})
	cleanupFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipstitch_cleanup_failures_total",
		Help: "Intermediate segment objects that could not be deleted",
	})

	registry.MustRegister(
		workflowRuns,
		segments,
		segmentDuration,
		transcodeFallbacks,
		storageRetries,
		cleanupFailures,
	)

	return &Pipeline{
		registry:           registry,
		workflowRuns:       workflowRuns,
		segments:           segments,
		segmentDuration:    segmentDuration,
		transcodeFallbacks: transcodeFallbacks,
		storageRetries:     storageRetries,
		cleanupFailures:    cleanupFailures,
	}
}

// Registry returns the underlying registry.
func (m *Pipeline) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun counts a workflow run reaching status.
func (m *Pipeline) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(status).Inc()
}

// ObserveSegment counts a segment outcome and its wall time.
func (m *Pipeline) ObserveSegment(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(outcome).Inc()
	m.segmentDuration.Observe(elapsed.Seconds())
}

// IncTranscodeFallback counts a stream copy fallback.
func (m *Pipeline) IncTranscodeFallback() {
	if m == nil {
		return
	}
	m.transcodeFallbacks.Inc()
}

// IncStorageRetry counts one throttled storage operation being retried.
func (m *Pipeline) IncStorageRetry(op string) {
	if m == nil {
		return
	}
	m.storageRetries.WithLabelValues(op).Inc()
}

// AddCleanupFailures counts objects left behind after a stitch.
func (m *Pipeline) AddCleanupFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupFailures.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Pipeline) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
