package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/atp-gateway/internal/domain"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAction(id, namespace string) *domain.Action {
	return &domain.Action{
		ID:         id,
		WorkflowID: "wf_service_remediation_v1",
		Initiator:  domain.Initiator{Type: domain.InitiatorWebhook, Source: "uptime_kuma"},
		Timestamp:  time.Now().UTC(),
		ActionType: "service.remediation",
		Target:     domain.Target{System: "argocd", Resource: "application", Operation: "rollback"},
		Payload:    map[string]any{"application_name": "checkout-api"},
		Context: map[string]any{
			domain.ContextKeyService:   "checkout-api",
			domain.ContextKeyNamespace: namespace,
			domain.ContextKeyStatus:    "down",
		},
		Status: domain.StatusDeclared,
	}
}

func sampleAssessment(actionID string) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		ActionID:       actionID,
		Timestamp:      time.Now().UTC(),
		Score:          0.85,
		Level:          domain.RiskHigh,
		Factors:        []domain.RiskFactor{{Name: "production_environment", Severity: domain.SeverityHigh, Weight: 0.4}},
		Recommendation: domain.RecommendHumanReview,
		Confidence:     0.75,
	}
}

func sampleExecution(actionID string, status domain.ExecutionStatus) *domain.ExecutionResult {
	started := time.Now().UTC().Add(-2 * time.Second)
	return &domain.ExecutionResult{
		ActionID:    actionID,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Status:      status,
		Result:      map[string]any{"ok": status == domain.ExecutionSuccess},
		SideEffects: []domain.SideEffect{{Type: "webhook_dispatched", Detail: "workflow wf dispatched", Timestamp: started}},
	}
}

func sampleVerification(actionID string, status domain.VerificationStatus) *domain.VerificationResult {
	return &domain.VerificationResult{
		ActionID:      actionID,
		Timestamp:     time.Now().UTC(),
		OverallStatus: status,
		Checks:        []domain.Check{{Type: "execution_status", Passed: status == domain.VerificationVerified}},
		Confidence:    0.95,
	}
}

// completeLifecycle writes the full record chain so history can be appended.
func completeLifecycle(t *testing.T, s *SQLite, id, namespace string, verified bool) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.PutAction(ctx, sampleAction(id, namespace)))
	require.NoError(t, s.PutRiskAssessment(ctx, sampleAssessment(id)))
	require.NoError(t, s.PutExecutionResult(ctx, sampleExecution(id, domain.ExecutionSuccess)))
	status := domain.VerificationVerified
	if !verified {
		status = domain.VerificationFailed
	}
	require.NoError(t, s.PutVerificationResult(ctx, sampleVerification(id, status)))
	require.NoError(t, s.AppendHistory(ctx, id))
}

func TestPutGetAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutAction(ctx, sampleAction("act_1", "production")))

	got, err := s.GetAction(ctx, "act_1")
	require.NoError(t, err)
	assert.Equal(t, "act_1", got.ID)
	assert.Equal(t, domain.StatusDeclared, got.Status)
	assert.Equal(t, "checkout-api", got.ContextString(domain.ContextKeyService))
}

func TestGetActionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAction(context.Background(), "act_missing")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
}

func TestDuplicateDeclareIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleAction("act_dup", "production")
	require.NoError(t, s.PutAction(ctx, first))

	// A retried declare with a diverging payload must not fork the record
	// or add a second audit entry.
	second := sampleAction("act_dup", "staging")
	require.NoError(t, s.PutAction(ctx, second))

	got, err := s.GetAction(ctx, "act_dup")
	require.NoError(t, err)
	assert.Equal(t, "production", got.ContextString(domain.ContextKeyNamespace))

	trail, err := s.AuditTrail(ctx, "act_dup")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutAction(ctx, sampleAction("act_st", "production")))

	require.NoError(t, s.UpdateStatus(ctx, "act_st", domain.StatusRiskAssessed, domain.StatusDeclared))

	got, err := s.GetAction(ctx, "act_st")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRiskAssessed, got.Status)

	err = s.UpdateStatus(ctx, "act_st", domain.StatusExecuted, domain.StatusExecuting)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConflict))

	err = s.UpdateStatus(ctx, "act_none", domain.StatusRiskAssessed, domain.StatusDeclared)
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
}

func TestAuditTrailOrderingAndDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutAction(ctx, sampleAction("act_audit", "production")))
	require.NoError(t, s.PutRiskAssessment(ctx, sampleAssessment("act_audit")))
	require.NoError(t, s.AppendAudit(ctx, "act_audit", domain.EventApprovalRequested, map[string]string{"priority": "high"}))

	// Retried transitions must not duplicate audit entries.
	require.NoError(t, s.PutRiskAssessment(ctx, sampleAssessment("act_audit")))
	require.NoError(t, s.AppendAudit(ctx, "act_audit", domain.EventApprovalRequested, nil))

	trail, err := s.AuditTrail(ctx, "act_audit")
	require.NoError(t, err)
	require.Len(t, trail, 3)

	assert.Equal(t, domain.EventActionDeclared, trail[0].Event)
	assert.Equal(t, domain.EventRiskAssessed, trail[1].Event)
	assert.Equal(t, domain.EventApprovalRequested, trail[2].Event)

	for i := 1; i < len(trail); i++ {
		assert.Equal(t, trail[i-1].Seq+1, trail[i].Seq)
		assert.False(t, trail[i].Timestamp.Before(trail[i-1].Timestamp))
	}
}

func TestAuditTrailNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AuditTrail(context.Background(), "act_none")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
}

func TestTypedRecordRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutAction(ctx, sampleAction("act_rt", "production")))

	decision := &domain.ApprovalDecision{
		ActionID:  "act_rt",
		Decision:  domain.DecisionApproved,
		Approver:  "oncall@example.com",
		Timestamp: time.Now().UTC(),
		Reason:    "verified the rollback target",
	}
	require.NoError(t, s.PutApprovalDecision(ctx, decision))

	got, err := s.GetApprovalDecision(ctx, "act_rt")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, got.Decision)
	assert.Equal(t, "oncall@example.com", got.Approver)

	exec := sampleExecution("act_rt", domain.ExecutionFailure)
	require.NoError(t, s.PutExecutionResult(ctx, exec))
	gotExec, err := s.GetExecutionResult(ctx, "act_rt")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailure, gotExec.Status)
	require.Len(t, gotExec.SideEffects, 1)
}

func TestAppendHistoryRequiresDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AppendHistory(ctx, "act_missing")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))

	require.NoError(t, s.PutAction(ctx, sampleAction("act_h", "production")))
	err = s.AppendHistory(ctx, "act_h")
	assert.True(t, domain.IsType(err, domain.ErrorTypeMissingDependency))

	require.NoError(t, s.PutRiskAssessment(ctx, sampleAssessment("act_h")))
	err = s.AppendHistory(ctx, "act_h")
	assert.True(t, domain.IsType(err, domain.ErrorTypeMissingDependency))

	require.NoError(t, s.PutExecutionResult(ctx, sampleExecution("act_h", domain.ExecutionSuccess)))
	err = s.AppendHistory(ctx, "act_h")
	assert.True(t, domain.IsType(err, domain.ErrorTypeMissingDependency))

	require.NoError(t, s.PutVerificationResult(ctx, sampleVerification("act_h", domain.VerificationVerified)))
	require.NoError(t, s.AppendHistory(ctx, "act_h"))
}

func TestAppendHistoryAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	completeLifecycle(t, s, "act_once", "production", true)
	// Second append is a no-op, not a second row.
	require.NoError(t, s.AppendHistory(ctx, "act_once"))

	similar, err := s.FindSimilar(ctx, "argocd", "rollback", "production")
	require.NoError(t, err)
	assert.Equal(t, 1, similar.Count)
}

func TestFindSimilarAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	completeLifecycle(t, s, "act_s1", "production", true)
	completeLifecycle(t, s, "act_s2", "production", true)
	completeLifecycle(t, s, "act_s3", "production", false)

	similar, err := s.FindSimilar(ctx, "argocd", "rollback", "production")
	require.NoError(t, err)
	assert.Equal(t, 3, similar.Count)
	assert.InDelta(t, 2.0/3.0, similar.SuccessRate, 1e-9)
	assert.NotEqual(t, "N/A", similar.AvgCompletionTime)
}

func TestFindSimilarExactMatchOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	completeLifecycle(t, s, "act_prod", "production", true)

	// Same system and operation, different namespace: no shared results.
	similar, err := s.FindSimilar(ctx, "argocd", "rollback", "staging")
	require.NoError(t, err)
	assert.Equal(t, 0, similar.Count)
	assert.Equal(t, 0.0, similar.SuccessRate)

	similar, err = s.FindSimilar(ctx, "argocd", "restart", "production")
	require.NoError(t, err)
	assert.Equal(t, 0, similar.Count)

	similar, err = s.FindSimilar(ctx, "kubernetes", "rollback", "production")
	require.NoError(t, err)
	assert.Equal(t, 0, similar.Count)
}

func TestPerActionLockSerializes(t *testing.T) {
	s := newTestStore(t)

	var order []int
	unlock := s.Lock("act_lock")

	done := make(chan struct{})
	go func() {
		u := s.Lock("act_lock")
		order = append(order, 2)
		u()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	order = append(order, 1)
	unlock()
	<-done

	assert.Equal(t, []int{1, 2}, order)
}
