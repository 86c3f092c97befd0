package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/atp-gateway/internal/domain"
)

func verifyAction() *domain.Action {
	return &domain.Action{
		ID:         "act_ver",
		WorkflowID: "wf_service_remediation_v1",
		Target:     domain.Target{System: "argocd", Resource: "application", Operation: "rollback"},
	}
}

func execResult(status domain.ExecutionStatus, effects ...domain.SideEffect) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		ActionID:    "act_ver",
		StartedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
		Status:      status,
		SideEffects: effects,
	}
}

func checkByType(t *testing.T, result *domain.VerificationResult, typ string) domain.Check {
	t.Helper()
	for _, c := range result.Checks {
		if c.Type == typ {
			return c
		}
	}
	t.Fatalf("no %q check in %+v", typ, result.Checks)
	return domain.Check{}
}

func TestVerifyAllChecksPass(t *testing.T) {
	e := New(StaticProber{Healthy: true, Detail: "service responding"})

	result := e.Verify(context.Background(), verifyAction(), execResult(domain.ExecutionSuccess,
		domain.SideEffect{Type: "webhook_dispatched", Detail: "workflow wf_service_remediation_v1 dispatched"}))

	assert.Equal(t, domain.VerificationVerified, result.OverallStatus)
	require.Len(t, result.Checks, 3)
	assert.Equal(t, engineConfidence, result.Confidence)
}

func TestVerifyFailedExecutionStillRunsEveryCheck(t *testing.T) {
	e := New(StaticProber{Healthy: true, Detail: "service responding"})

	result := e.Verify(context.Background(), verifyAction(), execResult(domain.ExecutionFailure))

	assert.Equal(t, domain.VerificationFailed, result.OverallStatus)
	require.Len(t, result.Checks, 3)

	assert.False(t, checkByType(t, result, "execution_status").Passed)
	assert.True(t, checkByType(t, result, "service_health").Passed)
	assert.True(t, checkByType(t, result, "side_effects").Passed)
}

func TestVerifyUnhealthyService(t *testing.T) {
	e := New(StaticProber{Healthy: false, Detail: "still down"})

	result := e.Verify(context.Background(), verifyAction(), execResult(domain.ExecutionSuccess))

	assert.Equal(t, domain.VerificationFailed, result.OverallStatus)
	health := checkByType(t, result, "service_health")
	assert.False(t, health.Passed)
	assert.Equal(t, "still down", health.Detail)
}

func TestVerifyFlagsOutOfScopeSideEffect(t *testing.T) {
	e := New(StaticProber{Healthy: true})

	result := e.Verify(context.Background(), verifyAction(), execResult(domain.ExecutionSuccess,
		domain.SideEffect{Type: "db_write", Detail: "updated billing ledger"}))

	assert.Equal(t, domain.VerificationFailed, result.OverallStatus)
	scope := checkByType(t, result, "side_effects")
	assert.False(t, scope.Passed)
	assert.Contains(t, scope.Detail, "db_write")
}

func TestVerifyInScopeSideEffectsPass(t *testing.T) {
	e := New(StaticProber{Healthy: true})

	result := e.Verify(context.Background(), verifyAction(), execResult(domain.ExecutionSuccess,
		domain.SideEffect{Type: "webhook_dispatched", Detail: "argocd application sync triggered"},
		domain.SideEffect{Type: "annotation", Detail: ""}))

	assert.True(t, checkByType(t, result, "side_effects").Passed)
}

func TestVerifyNilProberAssumesHealthy(t *testing.T) {
	e := New(nil)

	result := e.Verify(context.Background(), verifyAction(), execResult(domain.ExecutionSuccess))
	assert.Equal(t, domain.VerificationVerified, result.OverallStatus)
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	healthy, detail := (&HTTPProber{URL: srv.URL}).Probe(context.Background(), verifyAction())
	assert.True(t, healthy)
	assert.Contains(t, detail, "200")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	healthy, detail = (&HTTPProber{URL: down.URL}).Probe(context.Background(), verifyAction())
	assert.False(t, healthy)
	assert.Contains(t, detail, "503")
}
