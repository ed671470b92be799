package veld

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsInterceptor records per-method call totals, failures, and
// latency against a caller-supplied Prometheus registerer. Register it
// as around advice with a low order so the recorded duration covers
// the inner advices as well as the real call.
type MetricsInterceptor struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsInterceptor creates a metrics interceptor and registers
// its collectors with the given registerer.
func NewMetricsInterceptor(reg prometheus.Registerer) (*MetricsInterceptor, error) {
	m := &MetricsInterceptor{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veld",
			Name:      "invocations_total",
			Help:      "Managed method invocations by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "veld",
			Name:      "invocation_duration_seconds",
			Help:      "Managed method invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	if err := reg.Register(m.calls); err != nil {
		return nil, err
	}
	if err := reg.Register(m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// Invoke implements Interceptor.
func (m *MetricsInterceptor) Invoke(inv *Invocation) (any, error) {
	start := time.Now()
	result, err := inv.Proceed()
	m.duration.WithLabelValues(inv.Method).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.calls.WithLabelValues(inv.Method, outcome).Inc()
	return result, err
}
