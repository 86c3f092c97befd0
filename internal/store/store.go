// Package store persists actions and their lifecycle records and keeps the
// append-only audit trail. Every mutating call writes its record and the
// matching audit event in a single transaction, so a failed write never
// leaves the audit log and the typed records disagreeing.
package store

import (
	"context"
	"sync"

	"github.com/oncallops/atp-gateway/internal/domain"
)

// Store is the durable record layer backing the orchestrator. Typed
// records are idempotent upserts keyed by action id; audit events are
// append-only and deduplicated by (action id, event name), which is what
// makes lifecycle transitions safe to retry.
type Store interface {
	// PutAction persists a declared action and appends the
	// action_declared audit event.
	PutAction(ctx context.Context, action *domain.Action) error

	// GetAction returns the action or a not-found error.
	GetAction(ctx context.Context, actionID string) (*domain.Action, error)

	// ListActions returns all known actions, oldest first.
	ListActions(ctx context.Context) ([]domain.Action, error)

	// UpdateStatus advances the action status if the current status is in
	// from. Returns a conflict error when it is not, and not-found when
	// the action does not exist.
	UpdateStatus(ctx context.Context, actionID string, to domain.ActionStatus, from ...domain.ActionStatus) error

	PutRiskAssessment(ctx context.Context, a *domain.RiskAssessment) error
	GetRiskAssessment(ctx context.Context, actionID string) (*domain.RiskAssessment, error)

	PutApprovalDecision(ctx context.Context, d *domain.ApprovalDecision) error
	GetApprovalDecision(ctx context.Context, actionID string) (*domain.ApprovalDecision, error)

	PutExecutionResult(ctx context.Context, r *domain.ExecutionResult) error
	GetExecutionResult(ctx context.Context, actionID string) (*domain.ExecutionResult, error)

	PutVerificationResult(ctx context.Context, v *domain.VerificationResult) error
	GetVerificationResult(ctx context.Context, actionID string) (*domain.VerificationResult, error)

	// AppendAudit appends a bare audit event with no typed record, used
	// for transitions like approval_requested. Deduplicated like every
	// other audit append.
	AppendAudit(ctx context.Context, actionID, event string, data any) error

	// AuditTrail returns the ordered event list, or not-found when no
	// events exist for the action.
	AuditTrail(ctx context.Context, actionID string) ([]domain.AuditEvent, error)

	// AppendHistory writes the denormalized history entry for a verified
	// action, at most once. It fails with a missing-dependency error when
	// the risk assessment or execution result does not exist yet.
	AppendHistory(ctx context.Context, actionID string) error

	// FindSimilar aggregates history entries matching the exact target
	// system, operation, and namespace. No matches yields Count 0 and
	// SuccessRate 0.
	FindSimilar(ctx context.Context, system, operation, namespace string) (domain.SimilaritySummary, error)

	// Lock acquires the per-action mutex and returns its release func.
	// Callers hold it only around local state transitions, never across
	// network I/O.
	Lock(actionID string) (unlock func())

	Close() error
}

// keyedMutex hands out one mutex per action id. Entries are never
// evicted; the set of in-flight action ids is small and bounded by the
// process lifetime.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
