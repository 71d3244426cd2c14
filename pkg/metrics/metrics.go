// Package metrics exposes Prometheus instruments for the gateway. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors
type Metrics struct {
	registry prometheus.Gatherer

	// Critic verdicts by critic ("security", "policy") and verdict label
	CriticVerdicts *prometheus.CounterVec
	// Fallback verdicts by critic, failure kind and failure mode
	CriticFallbacks *prometheus.CounterVec
	CriticLatency   *prometheus.HistogramVec

	GenerationLatency  prometheus.Histogram
	GenerationFailures prometheus.Counter

	// Completed transactions by final verdict
	Transactions    *prometheus.CounterVec
	PolicyWarnings  prometheus.Counter
	PipelineLatency prometheus.Histogram

	// Audit sink writes by result ("ok", "error")
	AuditWrites *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
}

// New registers the gateway collectors on a fresh registry
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	latency := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		registry: reg,

		CriticVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_critic_verdicts_total",
			Help: "Critic verdicts by critic and verdict",
		}, []string{"critic", "verdict"}),

		CriticFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_critic_fallbacks_total",
			Help: "Fallback verdicts substituted for failed critic calls",
		}, []string{"critic", "kind", "mode"}),

		CriticLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nova_critic_duration_seconds",
			Help:    "Duration of critic calls that reached the model",
			Buckets: latency,
		}, []string{"critic"}),

		GenerationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_generation_duration_seconds",
			Help:    "Duration of primary model generation calls",
			Buckets: latency,
		}),

		GenerationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "nova_generation_failures_total",
			Help: "Generation calls that failed and aborted the request",
		}),

		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_transactions_total",
			Help: "Completed gateway transactions by final verdict",
		}, []string{"final_verdict"}),

		PolicyWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "nova_policy_warnings_total",
			Help: "Allowed responses annotated with a policy warning",
		}),

		PipelineLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nova_pipeline_duration_seconds",
			Help:    "End to end pipeline duration",
			Buckets: latency,
		}),

		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_audit_writes_total",
			Help: "Audit sink writes by result",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nova_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"route", "status"}),
	}
}

// ObserveCritic records a verdict. d is zero for fallback verdicts.
func (m *Metrics) ObserveCritic(critic, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	m.CriticVerdicts.WithLabelValues(critic, verdict).Inc()
	if d > 0 {
		m.CriticLatency.WithLabelValues(critic).Observe(d.Seconds())
	}
}

// IncCriticFallback records a substituted verdict
func (m *Metrics) IncCriticFallback(critic, kind, mode string) {
	if m != nil {
		m.CriticFallbacks.WithLabelValues(critic, kind, mode).Inc()
	}
}

// ObserveGeneration records a generation call
func (m *Metrics) ObserveGeneration(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.GenerationLatency.Observe(d.Seconds())
	if err != nil {
		m.GenerationFailures.Inc()
	}
}

// IncTransaction records a completed transaction
func (m *Metrics) IncTransaction(finalVerdict string, policyWarning bool) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(finalVerdict).Inc()
	if policyWarning {
		m.PolicyWarnings.Inc()
	}
}

// ObservePipeline records end to end latency
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m != nil {
		m.PipelineLatency.Observe(d.Seconds())
	}
}

// IncAuditWrite records a sink write
func (m *Metrics) IncAuditWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.AuditWrites.WithLabelValues("error").Inc()
		return
	}
	m.AuditWrites.WithLabelValues("ok").Inc()
}

// IncHTTP records a served request
func (m *Metrics) IncHTTP(route string, status int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
