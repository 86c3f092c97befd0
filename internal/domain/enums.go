package domain

// ActionStatus tracks an action through its lifecycle. Only the
// orchestrator advances it; terminal statuses are immutable.
type ActionStatus string

const (
	StatusDeclared           ActionStatus = "declared"
	StatusRiskAssessed       ActionStatus = "risk_assessed"
	StatusPendingApproval    ActionStatus = "pending_approval"
	StatusApproved           ActionStatus = "approved"
	StatusRejected           ActionStatus = "rejected"
	StatusExecuting          ActionStatus = "executing"
	StatusExecuted           ActionStatus = "executed"
	StatusVerified           ActionStatus = "verified"
	StatusVerificationFailed ActionStatus = "verification_failed"
	StatusRolledBack         ActionStatus = "rolled_back"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusRolledBack:
		return true
	}
	return false
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Recommendation is the assessor's suggested handling for an action.
type Recommendation string

const (
	RecommendAutoApprove Recommendation = "auto_approve"
	RecommendHumanReview Recommendation = "human_review"
	RecommendReject      Recommendation = "reject"
)

// ApprovalType distinguishes policy-level auto approval from human review.
type ApprovalType string

const (
	ApprovalAuto          ApprovalType = "auto_approve"
	ApprovalHumanRequired ApprovalType = "human_required"
)

// Decision is the outcome of an approval request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionModified Decision = "modified"
)

// ExecutionStatus describes the outcome reported by the dispatcher.
type ExecutionStatus string

const (
	ExecutionSuccess    ExecutionStatus = "success"
	ExecutionFailure    ExecutionStatus = "failure"
	ExecutionPartial    ExecutionStatus = "partial"
	ExecutionInProgress ExecutionStatus = "in_progress"
)

// VerificationStatus is the overall outcome of the post-execution checks.
type VerificationStatus string

const (
	VerificationVerified VerificationStatus = "verified"
	VerificationAnomaly  VerificationStatus = "anomaly_detected"
	VerificationFailed   VerificationStatus = "verification_failed"
)

// Priority orders approval requests for reviewers.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// InitiatorType identifies what kind of caller declared an action.
type InitiatorType string

const (
	InitiatorWebhook   InitiatorType = "webhook"
	InitiatorScheduled InitiatorType = "scheduled"
	InitiatorHuman     InitiatorType = "human"
	InitiatorAIAgent   InitiatorType = "ai_agent"
)

// Severity grades an individual risk factor.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)
