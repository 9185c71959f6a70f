package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics holds remote-call instrumentation for the API client.
type ClientMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	NetworkFailures prometheus.Counter
	BreakerRejects  prometheus.Counter
}

// NewClientMetrics creates and registers client metrics on reg. Tests pass a
// fresh registry to avoid duplicate registration across instances.
func NewClientMetrics(namespace string, reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ClientMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Total remote API requests by method, path and status",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote API request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		NetworkFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_network_failures_total",
			Help:      "Transport-level failures and timeouts",
		}),
		BreakerRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_breaker_rejects_total",
			Help:      "Requests rejected by the open circuit breaker",
		}),
	}
}
