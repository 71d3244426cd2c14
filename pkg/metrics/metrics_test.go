package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCritic("security", "SAFE", time.Second)
		m.IncCriticFallback("policy", "transport", "fail-open")
		m.ObserveGeneration(time.Second, errors.New("x"))
		m.IncTransaction("ALLOWED", true)
		m.ObservePipeline(time.Second)
		m.IncAuditWrite(nil)
		m.IncHTTP("/nova-chat", 200)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveCritic("security", "MALICIOUS", 10*time.Millisecond)
	m.ObserveCritic("security", "MALICIOUS", 0)
	m.IncCriticFallback("security", "transport", "fail-open")
	m.IncTransaction("ALLOWED", true)
	m.IncTransaction("BLOCKED", false)
	m.IncAuditWrite(nil)
	m.IncAuditWrite(errors.New("disk full"))
	m.ObserveGeneration(time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CriticVerdicts.WithLabelValues("security", "MALICIOUS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CriticFallbacks.WithLabelValues("security", "transport", "fail-open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("ALLOWED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("BLOCKED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicyWarnings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWrites.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationFailures))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.IncHTTP("/nova-chat", 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nova_http_requests_total{route="/nova-chat",status="200"} 1`)
}
