// ABOUTME: Prometheus metrics for gate decisions, account resolution, and the decision log
// ABOUTME: Disabled instances are no-ops so callers never nil-check

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for plangate.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	decisionsTotal   *prometheus.CounterVec
	resolveDuration  *prometheus.HistogramVec
	resolveRetries   prometheus.Counter
	usageIncrements  *prometheus.CounterVec
	decisionLogDrops prometheus.Counter
}

// New creates metrics registered on a private registry.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(m.registry)

	m.decisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "plangate_decisions_total",
		Help: "Gate decisions by outcome and reason",
	}, []string{"outcome", "reason"})

	m.resolveDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plangate_resolve_duration_seconds",
		Help:    "Account resolution latency in seconds, including the retry",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	m.resolveRetries = f.NewCounter(prometheus.CounterOpts{
		Name: "plangate_resolve_retries_total",
		Help: "Account lookups retried after an infrastructure error",
	})

	m.usageIncrements = f.NewCounterVec(prometheus.CounterOpts{
		Name: "plangate_usage_increments_total",
		Help: "Metered feature usage recorded",
	}, []string{"feature"})

	m.decisionLogDrops = f.NewCounter(prometheus.CounterOpts{
		Name: "plangate_decision_log_dropped_total",
		Help: "Decision log entries overwritten by the ring buffer",
	})

	return m
}

// Enabled reports whether collectors are live.
func (m *Metrics) Enabled() bool { return m.enabled }

// RecordDecision counts a final gate decision.
func (m *Metrics) RecordDecision(outcome, reason string) {
	if !m.enabled {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveResolve records one account resolution.
func (m *Metrics) ObserveResolve(outcome string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.resolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncResolveRetry counts a resolver retry.
func (m *Metrics) IncResolveRetry() {
	if !m.enabled {
		return
	}
	m.resolveRetries.Inc()
}

// RecordUsage counts a metered usage increment.
func (m *Metrics) RecordUsage(feature string) {
	if !m.enabled {
		return
	}
	m.usageIncrements.WithLabelValues(feature).Inc()
}

// IncDecisionLogDrop counts an overwritten decision log entry.
func (m *Metrics) IncDecisionLogDrop() {
	if !m.enabled {
		return
	}
	m.decisionLogDrops.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
