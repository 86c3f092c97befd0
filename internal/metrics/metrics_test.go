package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesLifecycleCounters(t *testing.T) {
	m := New()
	m.ActionsDeclared.Inc()
	m.RiskAssessed.WithLabelValues("high").Inc()
	m.Approvals.WithLabelValues("approved", "human").Inc()
	m.Executions.WithLabelValues("success").Inc()
	m.Verifications.WithLabelValues("verified").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, "atp_actions_declared_total 1")
	assert.Contains(t, out, `atp_risk_assessments_total{level="high"} 1`)
	assert.Contains(t, out, `atp_approvals_total{decision="approved",kind="human"} 1`)
	assert.Contains(t, out, `atp_executions_total{status="success"} 1`)
	assert.Contains(t, out, `atp_verifications_total{status="verified"} 1`)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.ActionsDeclared.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "atp_actions_declared_total 0")
}
