package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the token endpoint collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	known    map[string]struct{}
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics labels requests by grant type; anything outside grantTypes is
// counted as "unknown".
func NewMetrics(grantTypes []string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		known:    make(map[string]struct{}, len(grantTypes)),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauth2core",
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oauth2core",
			Name:      "token_request_duration_seconds",
			Help:      "Token endpoint latency by grant type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grant_type"}),
	}
	for _, g := range grantTypes {
		m.known[g] = struct{}{}
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// observe records one request. An empty errCode means a token was issued.
func (m *Metrics) observe(grantType, errCode string, elapsed time.Duration) {
	if _, ok := m.known[grantType]; !ok {
		grantType = "unknown"
	}
	outcome := "issued"
	if errCode != "" {
		outcome = errCode
	}
	m.requests.WithLabelValues(grantType, outcome).Inc()
	m.duration.WithLabelValues(grantType).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
