package scorecard

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentchaos/chaosproxy/pkg/event"
)

// Metrics exposes the scorecard counters for Prometheus scraping on the
// control plane's /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	chaosTotal      *prometheus.CounterVec
	errorCodesTotal *prometheus.CounterVec
	latencySeconds  *prometheus.HistogramVec
}

// NewMetrics builds and registers the metric set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chaosproxy",
		Name:      "requests_total",
		Help:      "Flows processed, by traffic type.",
	}, []string{"traffic_type"})

	m.chaosTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chaosproxy",
		Name:      "chaos_injections_total",
		Help:      "Strategy applications, by strategy name.",
	}, []string{"strategy"})

	m.errorCodesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chaosproxy",
		Name:      "chaos_error_codes_total",
		Help:      "Data-path errors, by error code.",
	}, []string{"code"})

	m.latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chaosproxy",
		Name:      "flow_latency_seconds",
		Help:      "End-to-end flow latency including injected delay.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"traffic_type"})

	m.registry.MustRegister(m.requestsTotal, m.chaosTotal, m.errorCodesTotal, m.latencySeconds)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe runs under the aggregator's lock on the bus pump goroutine.
func (m *Metrics) observe(ev event.Event) {
	tt := string(ev.TrafficType)
	m.requestsTotal.WithLabelValues(tt).Inc()
	m.latencySeconds.WithLabelValues(tt).Observe(ev.LatencyMS / 1000)
	for _, s := range ev.AppliedStrategies {
		m.chaosTotal.WithLabelValues(s).Inc()
	}
	if ev.ErrorCode != "" {
		m.errorCodesTotal.WithLabelValues(ev.ErrorCode).Inc()
	}
}
