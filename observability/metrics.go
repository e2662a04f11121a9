package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// Metrics mirrors the rolling aggregates as Prometheus collectors, per
// SPEC_FULL §4.7. This is additive to the REST read API, not a substitute
// for it. Grounded on the teacher's MCPMetrics (per-dimension CounterVec/
// HistogramVec registered against a dedicated prometheus.Registry rather
// than the global default one, so multiple Sinks in a process don't
// collide).
type Metrics struct {
	registry *prometheus.Registry

	callsTotal  *prometheus.CounterVec
	tokensTotal *prometheus.CounterVec
	costTotal   *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewMetrics constructs a Metrics collector registered against its own
// prometheus.Registry (returned so the caller can mount it on an HTTP
// handler via promhttp.HandlerFor).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_calls_total",
			Help: "Total number of provider calls.",
		}, []string{"provider", "model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_tokens_total",
			Help: "Total tokens consumed, by kind.",
		}, []string{"provider", "model", "kind"}),
		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_cost_usd_total",
			Help: "Total USD cost of provider calls.",
		}, []string{"provider", "model"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_llm_latency_seconds",
			Help:    "Provider call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
	}
	registry.MustRegister(m.callsTotal, m.tokensTotal, m.costTotal, m.latency)
	return m
}

// Registry returns the collector's dedicated registry, for mounting under
// the local REST read API's /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one completed provider call's metrics.
func (m *Metrics) Observe(rec storage.LLMCostRecord) {
	m.callsTotal.WithLabelValues(rec.Provider, rec.Model).Inc()
	m.tokensTotal.WithLabelValues(rec.Provider, rec.Model, "prompt").Add(float64(rec.PromptTokens))
	m.tokensTotal.WithLabelValues(rec.Provider, rec.Model, "completion").Add(float64(rec.CompletionTokens))
	m.costTotal.WithLabelValues(rec.Provider, rec.Model).Add(rec.TotalCostUSD)
	m.latency.WithLabelValues(rec.Provider, rec.Model).Observe(float64(rec.LatencyMS) / 1000)
}
