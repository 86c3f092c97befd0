// Package orchestrator drives the action lifecycle state machine:
// declared → risk_assessed → (auto approval | pending_approval) →
// approved/rejected → executing → executed → verified/verification_failed.
// It is the only component that advances an action's status, every
// transition writes exactly one audit event, and transitions are
// idempotent under retry.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oncallops/atp-gateway/internal/approval"
	"github.com/oncallops/atp-gateway/internal/domain"
	"github.com/oncallops/atp-gateway/internal/metrics"
	"github.com/oncallops/atp-gateway/internal/store"
)

// Assessor computes risk assessments.
type Assessor interface {
	Assess(ctx context.Context, action *domain.Action) (*domain.RiskAssessment, error)
}

// Explainer renders a human-readable rationale for an assessment.
type Explainer interface {
	Explain(ctx context.Context, assessment *domain.RiskAssessment) string
}

// Dispatcher executes approved actions against the automation backend.
type Dispatcher interface {
	Execute(ctx context.Context, action *domain.Action, decision *domain.ApprovalDecision, level domain.RiskLevel, override string) *domain.ExecutionResult
}

// Verifier runs the post-execution check battery.
type Verifier interface {
	Verify(ctx context.Context, action *domain.Action, exec *domain.ExecutionResult) *domain.VerificationResult
}

// Next steps reported to declare callers.
const (
	NextStepApprovalRequired = "approval_required"
	NextStepAutoExecuting    = "auto_executing"
)

// Orchestrator ties the store, assessor, dispatcher, and verifier
// together per action. Per-action locks serialize local transitions;
// external calls never run under the lock.
type Orchestrator struct {
	store      store.Store
	assessor   Assessor
	explainer  Explainer
	dispatcher Dispatcher
	verifier   Verifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New wires an orchestrator. metrics may be nil.
func New(s store.Store, assessor Assessor, explainer Explainer, dispatcher Dispatcher, verifier Verifier, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      s,
		assessor:   assessor,
		explainer:  explainer,
		dispatcher: dispatcher,
		verifier:   verifier,
		metrics:    m,
		logger:     logger,
	}
}

// DeclareInput is a fully-specified action declaration.
type DeclareInput struct {
	ActionID   string
	WorkflowID string
	Initiator  domain.Initiator
	ActionType string
	Target     domain.Target
	Payload    map[string]any
	Context    map[string]any
}

// DeclareOutput is what declare callers get back.
type DeclareOutput struct {
	Action      *domain.Action
	Assessment  *domain.RiskAssessment
	Requirement domain.ApprovalRequirement
	Explanation string
	NextStep    string
}

// NewActionID builds an id in the act_<hex8> shape.
func NewActionID() string {
	return "act_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Declare persists a new action, assesses its risk, and resolves the
// approval requirement. Low-risk actions are auto-approved with a
// synthesized system decision; everything else waits in pending_approval.
func (o *Orchestrator) Declare(ctx context.Context, input DeclareInput) (*DeclareOutput, error) {
	// A disconnecting caller must not strand the action mid-lifecycle;
	// writes and the assessment run to completion regardless.
	ctx = context.WithoutCancel(ctx)

	action := &domain.Action{
		ID:         input.ActionID,
		WorkflowID: input.WorkflowID,
		Initiator:  input.Initiator,
		Timestamp:  time.Now().UTC(),
		ActionType: input.ActionType,
		Target:     input.Target,
		Payload:    input.Payload,
		Context:    input.Context,
		Status:     domain.StatusDeclared,
	}
	if action.ID == "" {
		action.ID = NewActionID()
	}

	unlock := o.store.Lock(action.ID)
	err := o.store.PutAction(ctx, action)
	unlock()
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ActionsDeclared.Inc()
	}

	// Risk scoring may hit the network; the per-action lock is not held
	// across it.
	assessment, err := o.assessor.Assess(ctx, action)
	if err != nil {
		return nil, err
	}

	requirement := approval.Resolve(assessment.Level, action.ID, assessment.Score)

	unlock = o.store.Lock(action.ID)
	defer unlock()

	if err := o.store.PutRiskAssessment(ctx, assessment); err != nil {
		return nil, err
	}
	if err := o.store.UpdateStatus(ctx, action.ID, domain.StatusRiskAssessed, domain.StatusDeclared); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RiskAssessed.WithLabelValues(string(assessment.Level)).Inc()
	}

	out := &DeclareOutput{
		Action:      action,
		Assessment:  assessment,
		Requirement: requirement,
		Explanation: o.explainer.Explain(ctx, assessment),
	}

	if requirement.Type == domain.ApprovalAuto {
		decision := &domain.ApprovalDecision{
			ActionID:  action.ID,
			Decision:  domain.DecisionApproved,
			Approver:  "system",
			Timestamp: time.Now().UTC(),
			Reason:    requirement.Reason,
		}
		if err := o.store.PutApprovalDecision(ctx, decision); err != nil {
			return nil, err
		}
		if err := o.store.UpdateStatus(ctx, action.ID, domain.StatusApproved, domain.StatusRiskAssessed); err != nil {
			return nil, err
		}
		action.Status = domain.StatusApproved
		out.NextStep = NextStepAutoExecuting
		if o.metrics != nil {
			o.metrics.Approvals.WithLabelValues(string(domain.DecisionApproved), "auto").Inc()
		}
		return out, nil
	}

	if err := o.store.AppendAudit(ctx, action.ID, domain.EventApprovalRequested, requirement); err != nil {
		return nil, err
	}
	if err := o.store.UpdateStatus(ctx, action.ID, domain.StatusPendingApproval, domain.StatusRiskAssessed); err != nil {
		return nil, err
	}
	action.Status = domain.StatusPendingApproval
	out.NextStep = NextStepApprovalRequired

	o.logger.Info("action awaiting approval",
		slog.String("action_id", action.ID),
		slog.String("risk_level", string(assessment.Level)),
		slog.String("approvers", strings.Join(requirement.Approvers, ",")))
	return out, nil
}

// Decide records a human approval or rejection for a pending action.
// Unknown actions fail with not-found; actions outside pending_approval
// fail with conflict, except that deciding an already-approved action is
// an idempotent no-op returning the stored decision.
func (o *Orchestrator) Decide(ctx context.Context, actionID string, decision domain.Decision, approver, reason string) (*domain.ApprovalDecision, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := o.store.Lock(actionID)
	defer unlock()

	action, err := o.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	// Repeated approvals converge on the first recorded decision rather
	// than forking a second path downstream.
	if action.Status == domain.StatusApproved || action.Status == domain.StatusRejected {
		return o.store.GetApprovalDecision(ctx, actionID)
	}
	if action.Status != domain.StatusPendingApproval {
		return nil, domain.ErrConflict("action %s is %s, not awaiting approval", actionID, action.Status)
	}

	record := &domain.ApprovalDecision{
		ActionID:  actionID,
		Decision:  decision,
		Approver:  approver,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	}
	if err := o.store.PutApprovalDecision(ctx, record); err != nil {
		return nil, err
	}

	next := domain.StatusApproved
	if decision == domain.DecisionRejected {
		next = domain.StatusRejected
	}
	if err := o.store.UpdateStatus(ctx, actionID, next, domain.StatusPendingApproval); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.Approvals.WithLabelValues(string(decision), "human").Inc()
	}

	o.logger.Info("approval decision recorded",
		slog.String("action_id", actionID),
		slog.String("decision", string(decision)),
		slog.String("approver", approver))
	return record, nil
}

// ExecuteOutput bundles the execution and verification records.
type ExecuteOutput struct {
	Execution    *domain.ExecutionResult
	Verification *domain.VerificationResult
}

// Execute dispatches an approved action and verifies the outcome. A
// failed dispatch is recorded and still advances the action to executed;
// verification then runs regardless and decides the terminal status.
// Unknown actions fail with not-found; actions without an approval
// decision fail with a forbidden error and produce no execution record.
func (o *Orchestrator) Execute(ctx context.Context, actionID, endpointOverride string) (*ExecuteOutput, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := o.store.Lock(actionID)
	action, err := o.store.GetAction(ctx, actionID)
	if err != nil {
		unlock()
		return nil, err
	}

	decision, err := o.store.GetApprovalDecision(ctx, actionID)
	if domain.IsType(err, domain.ErrorTypeNotFound) {
		unlock()
		return nil, domain.ErrForbidden("action %s is not approved", actionID)
	}
	if err != nil {
		unlock()
		return nil, err
	}
	if decision.Decision == domain.DecisionRejected {
		unlock()
		return nil, domain.ErrForbidden("action %s was rejected by %s", actionID, decision.Approver)
	}

	switch action.Status {
	case domain.StatusApproved:
		// Normal path.
	case domain.StatusExecuted, domain.StatusVerified, domain.StatusVerificationFailed:
		// Retry after the fact: return or complete the stored outcome.
		unlock()
		return o.completeVerification(ctx, action)
	case domain.StatusExecuting:
		// The result record and the status flip are separate writes. When
		// the result exists the dispatch finished and only the transition
		// was lost; finish it. Without a result the dispatch may still be
		// in flight and re-dispatching could double-fire the webhook.
		execution, execErr := o.store.GetExecutionResult(ctx, actionID)
		if domain.IsType(execErr, domain.ErrorTypeNotFound) {
			unlock()
			return nil, domain.ErrConflict("action %s is already executing", actionID)
		}
		if execErr != nil {
			unlock()
			return nil, execErr
		}
		if err := o.store.UpdateStatus(ctx, actionID, domain.StatusExecuted, domain.StatusExecuting); err != nil {
			unlock()
			return nil, err
		}
		unlock()
		action.Status = domain.StatusExecuted
		return o.verifyExecuted(ctx, action, execution)
	default:
		unlock()
		return nil, domain.ErrConflict("action %s is %s, not approved", actionID, action.Status)
	}

	assessment, err := o.store.GetRiskAssessment(ctx, actionID)
	if err != nil {
		unlock()
		return nil, err
	}

	if err := o.store.UpdateStatus(ctx, actionID, domain.StatusExecuting, domain.StatusApproved); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	// The dispatch call runs without the lock and without the caller's
	// cancellation; its result is recorded no matter what.
	execution := o.dispatcher.Execute(ctx, action, decision, assessment.Level, endpointOverride)

	unlock = o.store.Lock(actionID)
	if err := o.store.PutExecutionResult(ctx, execution); err != nil {
		unlock()
		return nil, err
	}
	// Execution failure is a data outcome, not a blocked transition.
	if err := o.store.UpdateStatus(ctx, actionID, domain.StatusExecuted, domain.StatusExecuting); err != nil {
		unlock()
		return nil, err
	}
	unlock()
	if o.metrics != nil {
		o.metrics.Executions.WithLabelValues(string(execution.Status)).Inc()
	}

	action.Status = domain.StatusExecuted
	return o.verifyExecuted(ctx, action, execution)
}

// completeVerification returns stored results for an already-executed
// action, finishing the verification step if a prior attempt stopped
// between executed and verified.
func (o *Orchestrator) completeVerification(ctx context.Context, action *domain.Action) (*ExecuteOutput, error) {
	execution, err := o.store.GetExecutionResult(ctx, action.ID)
	if err != nil {
		return nil, err
	}

	verification, err := o.store.GetVerificationResult(ctx, action.ID)
	if err == nil {
		// A prior attempt may have failed after the terminal transition but
		// before the history write; the append is idempotent, so finish it
		// here rather than leaving the action out of the similarity index.
		unlock := o.store.Lock(action.ID)
		histErr := o.store.AppendHistory(ctx, action.ID)
		unlock()
		if histErr != nil {
			return nil, fmt.Errorf("failed to record history for %s: %w", action.ID, histErr)
		}
		return &ExecuteOutput{Execution: execution, Verification: verification}, nil
	}
	if !domain.IsType(err, domain.ErrorTypeNotFound) {
		return nil, err
	}
	return o.verifyExecuted(ctx, action, execution)
}

// verifyExecuted runs verification for an executed action, records the
// result, advances to the terminal status, and appends the history entry.
func (o *Orchestrator) verifyExecuted(ctx context.Context, action *domain.Action, execution *domain.ExecutionResult) (*ExecuteOutput, error) {
	// Health probes are network calls; run them before taking the lock.
	verification := o.verifier.Verify(ctx, action, execution)

	unlock := o.store.Lock(action.ID)
	defer unlock()

	if err := o.store.PutVerificationResult(ctx, verification); err != nil {
		return nil, err
	}

	terminal := domain.StatusVerified
	if verification.OverallStatus != domain.VerificationVerified {
		terminal = domain.StatusVerificationFailed
	}
	if err := o.store.UpdateStatus(ctx, action.ID, terminal, domain.StatusExecuted); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.Verifications.WithLabelValues(string(verification.OverallStatus)).Inc()
	}

	if err := o.store.AppendHistory(ctx, action.ID); err != nil {
		return nil, fmt.Errorf("failed to record history for %s: %w", action.ID, err)
	}

	o.logger.Info("action lifecycle completed",
		slog.String("action_id", action.ID),
		slog.String("execution_status", string(execution.Status)),
		slog.String("verification_status", string(verification.OverallStatus)))

	return &ExecuteOutput{Execution: execution, Verification: verification}, nil
}

// Explain renders the explanation for a stored assessment, or not-found
// when no assessment exists.
func (o *Orchestrator) Explain(ctx context.Context, actionID string) (string, error) {
	assessment, err := o.store.GetRiskAssessment(ctx, actionID)
	if err != nil {
		return "", err
	}
	return o.explainer.Explain(ctx, assessment), nil
}
