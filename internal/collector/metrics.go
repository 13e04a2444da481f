package collector

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments Mixpanel API calls. A nil *Metrics records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the collector metrics on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixpanel_ingest",
			Name:      "api_attempts_total",
			Help:      "Mixpanel API request attempts by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixpanel_ingest",
			Name:      "api_retries_total",
			Help:      "Mixpanel API attempts that were retried after a transient failure.",
		}, []string{"endpoint"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mixpanel_ingest",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of single Mixpanel API attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) observeAttempt(endpoint string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.attempts.WithLabelValues(endpoint, label).Inc()
	m.duration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRetry(endpoint string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(endpoint).Inc()
}
