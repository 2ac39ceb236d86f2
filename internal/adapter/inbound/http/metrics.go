// Package http provides the HTTP transport adapter for the policy engine.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/identitygate/identitygate/internal/domain/abac"
	"github.com/identitygate/identitygate/internal/service"
)

// Metrics holds all Prometheus metrics for the identity and access service.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	PolicyEvaluations  *prometheus.CounterVec
	PoliciesLoaded     prometheus.Gauge
	DecisionCacheSize  prometheus.Gauge
	AuditDropsTotal    prometheus.Counter
	TokenIssuedTotal   *prometheus.CounterVec
	RateLimitKeys      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "identitygate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "identitygate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "identitygate",
				Name:      "policy_evaluations_total",
				Help:      "Total authorization decisions by effect",
			},
			[]string{"effect"}, // effect=Permit/Deny/Challenge
		),
		PoliciesLoaded: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "identitygate",
				Name:      "policies_loaded",
				Help:      "Number of policies currently loaded from the repository",
			},
		),
		DecisionCacheSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "identitygate",
				Name:      "decision_cache_size",
				Help:      "Number of entries currently held in the decision cache",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "identitygate",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		TokenIssuedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "identitygate",
				Name:      "tokens_issued_total",
				Help:      "Total bearer tokens issued by grant type",
			},
			[]string{"grant_type"},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "identitygate",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			},
		),
	}
}

// RecordEvaluation updates PolicyEvaluations for a single authorization
// decision's effect bucket.
func (m *Metrics) RecordEvaluation(effect abac.Effect) {
	m.PolicyEvaluations.WithLabelValues(string(effect)).Inc()
}

// RecordTokenIssued updates TokenIssuedTotal for a single successful grant.
func (m *Metrics) RecordTokenIssued(grantType string) {
	m.TokenIssuedTotal.WithLabelValues(grantType).Inc()
}

// SyncFromServiceMetrics pushes a ServiceMetrics snapshot (as returned by
// AuthorizationService.Metrics) into the Prometheus gauges that mirror it.
func (m *Metrics) SyncFromServiceMetrics(snapshot service.ServiceMetrics) {
	m.PoliciesLoaded.Set(float64(snapshot.PoliciesCount))
	m.DecisionCacheSize.Set(float64(snapshot.CacheSize))
}
