package http

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/identitygate/identitygate/internal/domain/abac"
	"github.com/identitygate/identitygate/internal/service"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.PoliciesLoaded == nil {
		t.Error("PoliciesLoaded not initialized")
	}
	if m.DecisionCacheSize == nil {
		t.Error("DecisionCacheSize not initialized")
	}
	if m.PolicyEvaluations == nil {
		t.Error("PolicyEvaluations not initialized")
	}
	if m.AuditDropsTotal == nil {
		t.Error("AuditDropsTotal not initialized")
	}
	if m.TokenIssuedTotal == nil {
		t.Error("TokenIssuedTotal not initialized")
	}
	if m.RateLimitKeys == nil {
		t.Error("RateLimitKeys not initialized")
	}
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("/authz/evaluate", "ok").Inc()

	count := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/authz/evaluate", "ok"))
	if count != 1 {
		t.Errorf("RequestsTotal = %v, want 1", count)
	}

	m.PoliciesLoaded.Set(5)
	loaded := testutil.ToFloat64(m.PoliciesLoaded)
	if loaded != 5 {
		t.Errorf("PoliciesLoaded = %v, want 5", loaded)
	}

	m.RequestDuration.WithLabelValues("/authz/evaluate").Observe(0.1)
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range gathered {
		if strings.Contains(mf.GetName(), "request_duration") {
			found = true
			break
		}
	}
	if !found {
		t.Error("request_duration histogram not found in gathered metrics")
	}
}

func TestMetrics_RecordEvaluation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordEvaluation(abac.Deny)
	m.RecordEvaluation(abac.Deny)
	m.RecordEvaluation(abac.Permit)

	denyCount := testutil.ToFloat64(m.PolicyEvaluations.WithLabelValues(string(abac.Deny)))
	if denyCount != 2 {
		t.Errorf("Deny count = %v, want 2", denyCount)
	}
	permitCount := testutil.ToFloat64(m.PolicyEvaluations.WithLabelValues(string(abac.Permit)))
	if permitCount != 1 {
		t.Errorf("Permit count = %v, want 1", permitCount)
	}
}

func TestMetrics_RecordTokenIssued(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTokenIssued("client_credentials")

	count := testutil.ToFloat64(m.TokenIssuedTotal.WithLabelValues("client_credentials"))
	if count != 1 {
		t.Errorf("TokenIssuedTotal = %v, want 1", count)
	}
}

func TestMetrics_SyncFromServiceMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SyncFromServiceMetrics(service.ServiceMetrics{
		PoliciesCount: 7,
		CacheSize:     3,
	})

	if testutil.ToFloat64(m.PoliciesLoaded) != 7 {
		t.Errorf("PoliciesLoaded = %v, want 7", testutil.ToFloat64(m.PoliciesLoaded))
	}
	if testutil.ToFloat64(m.DecisionCacheSize) != 3 {
		t.Errorf("DecisionCacheSize = %v, want 3", testutil.ToFloat64(m.DecisionCacheSize))
	}
}
