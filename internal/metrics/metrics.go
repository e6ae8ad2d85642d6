// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the gateway exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	inbound         *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_inbound_messages_total",
				Help: "Inbound chat messages by routing path and outcome.",
			},
			[]string{"path", "outcome"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_deliveries_total",
				Help: "Scheduled deliveries by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
		backendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backend_requests_total",
				Help: "Backend requests by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_backend_request_duration_seconds",
				Help:    "Backend request latency by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_job_runs_total",
				Help: "Scheduled job firings by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Operator API requests processed.",
			},
			[]string{"method", "path", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.inbound, m.deliveries, m.backendRequests, m.backendDuration, m.jobRuns, m.httpRequests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// InboundMessage counts one routed inbound message.
func (m *Metrics) InboundMessage(path, outcome string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(path, outcome).Inc()
}

// Delivery counts one scheduled send attempt.
func (m *Metrics) Delivery(job, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(job, outcome).Inc()
}

// JobRun counts one job firing.
func (m *Metrics) JobRun(job, outcome string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
}

// ObserveBackendRequest records a backend call's outcome and latency.
func (m *Metrics) ObserveBackendRequest(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(op, outcome).Inc()
	m.backendDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
