package grpcweb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
)

// Metrics is an optional call metrics collector. It is never required by
// the call core — a nil *Metrics on a ClientConn simply records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics collector and registers it with reg. Pass
// prometheus.DefaultRegisterer for the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grpcweb",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Total gRPC-Web calls, labeled by method, kind, and final status code.",
		}, []string{"method", "kind", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grpcweb",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "gRPC-Web call duration in seconds, labeled by method and kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "kind"}),
	}

	reg.MustRegister(m.calls, m.duration)

	return m
}

func (m *Metrics) observe(method string, kind Kind, code codes.Code, start time.Time) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, kind.String(), code.String()).Inc()
	m.duration.WithLabelValues(method, kind.String()).Observe(time.Since(start).Seconds())
}
