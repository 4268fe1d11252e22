// Package metrics exposes the bot's process-lifetime counters to Prometheus.
//
// Every Metrics value owns its registry, so tests and multiple instances do
// not collide.  All methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "glitchy"

// Metrics holds the bot's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec   // mode
	errors          *prometheus.CounterVec   // mode, reason
	sanitizations   *prometheus.CounterVec   // rule
	classifications *prometheus.CounterVec   // kind
	rateLimited     *prometheus.CounterVec   // gate
	dropped         *prometheus.CounterVec   // reason
	fallbacks       prometheus.Counter
	queueRejected   prometheus.Counter
	duration        *prometheus.HistogramVec // mode, status
}

// New creates a Metrics with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completion requests issued to the model backend",
		}, []string{"mode"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed completion attempts and abandoned tasks",
		}, []string{"mode", "reason"}),
		sanitizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitization_events_total",
			Help:      "Replies altered by a sanitation rule",
		}, []string{"rule"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classified_lines_total",
			Help:      "Inbound lines by classification",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests or replies dropped by a cooldown",
		}, []string{"gate"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_dropped_total",
			Help:      "Generated replies that were never delivered",
		}, []string{"reason"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_fallbacks_total",
			Help:      "Search requests downgraded to a plain completion",
		}),
		queueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Tasks rejected because the dispatch queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of completion calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"mode", "status"}),
	}

	m.registry.MustRegister(
		m.requests, m.errors, m.sanitizations, m.classifications,
		m.rateLimited, m.dropped, m.fallbacks, m.queueRejected, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RegisterQueueDepth exports the dispatch queue length through fn.
func (m *Metrics) RegisterQueueDepth(fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Tasks waiting in the dispatch queue",
	}, fn))
}

// RequestIssued counts one call to the model backend.
func (m *Metrics) RequestIssued(mode string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode).Inc()
}

// Error counts a failed attempt or an abandoned task.
func (m *Metrics) Error(mode, reason string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(mode, reason).Inc()
}

// Sanitized counts each rule that altered a reply.
func (m *Metrics) Sanitized(rules ...string) {
	if m == nil {
		return
	}
	for _, r := range rules {
		m.sanitizations.WithLabelValues(r).Inc()
	}
}

// Classified counts an inbound line by kind.
func (m *Metrics) Classified(kind string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(kind).Inc()
}

// RateLimited counts a request or reply stopped by the named gate.
func (m *Metrics) RateLimited(gate string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(gate).Inc()
}

// ReplyDropped counts a generated reply that was not delivered.
func (m *Metrics) ReplyDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// SearchFallback counts a search task downgraded to plain.
func (m *Metrics) SearchFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// QueueRejected counts a task refused by a full queue.
func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.queueRejected.Inc()
}

// ObserveRequest records the duration of one completion call.
func (m *Metrics) ObserveRequest(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(mode, status).Observe(d.Seconds())
}

// Snapshot is a summary of the counters for the status endpoint.
type Snapshot struct {
	RequestsIssued     float64 `json:"requests_issued"`
	Errors             float64 `json:"errors"`
	SanitizationEvents float64 `json:"sanitization_events"`
	RateLimited        float64 `json:"rate_limited"`
	QueueRejected      float64 `json:"queue_rejected"`
	SearchFallbacks    float64 `json:"search_fallbacks"`
}

// Snapshot sums each counter family across its labels.
func (m *Metrics) Snapshot() (Snapshot, error) {
	var s Snapshot
	if m == nil {
		return s, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return s, err
	}
	for _, mf := range families {
		total := sumCounters(mf)
		switch mf.GetName() {
		case namespace + "_requests_total":
			s.RequestsIssued = total
		case namespace + "_errors_total":
			s.Errors = total
		case namespace + "_sanitization_events_total":
			s.SanitizationEvents = total
		case namespace + "_rate_limited_total":
			s.RateLimited = total
		case namespace + "_queue_rejected_total":
			s.QueueRejected = total
		case namespace + "_search_fallbacks_total":
			s.SearchFallbacks = total
		}
	}
	return s, nil
}

func sumCounters(mf *dto.MetricFamily) float64 {
	if mf.GetType() != dto.MetricType_COUNTER {
		return 0
	}
	var total float64
	for _, metric := range mf.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	return total
}
