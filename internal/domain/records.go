package domain

import (
	"encoding/json"
	"time"
)

// RiskFactor is one weighted contributor to a risk score.
type RiskFactor struct {
	Name     string   `json:"factor"`
	Severity Severity `json:"severity"`
	Weight   float64  `json:"weight"`
	Detail   string   `json:"details,omitempty"`
}

// SimilaritySummary aggregates outcomes of past actions with the same
// target system, operation, and namespace.
type SimilaritySummary struct {
	Count             int     `json:"count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgCompletionTime string  `json:"average_completion_time,omitempty"`
}

// RiskAssessment is the scored judgment of how dangerous an action is.
// Score and Confidence are bounded [0,1].
type RiskAssessment struct {
	ActionID       string            `json:"action_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Score          float64           `json:"risk_score"`
	Level          RiskLevel         `json:"risk_level"`
	Factors        []RiskFactor      `json:"risk_factors"`
	Similar        SimilaritySummary `json:"similar_actions"`
	Recommendation Recommendation    `json:"recommendation"`
	Confidence     float64           `json:"confidence"`
}

// ApprovalRequirement is the policy-derived statement of who must approve
// an action. It is derived from the risk level, never stored as a decision.
type ApprovalRequirement struct {
	ActionID  string       `json:"action_id"`
	RiskScore float64      `json:"risk_score"`
	Type      ApprovalType `json:"approval_type"`
	Approvers []string     `json:"approvers"`
	Deadline  string       `json:"deadline"`
	Priority  Priority     `json:"priority"`
	Reason    string       `json:"reason,omitempty"`
}

// ApprovalDecision records a human (or system) approval outcome.
type ApprovalDecision struct {
	ActionID      string         `json:"action_id"`
	Decision      Decision       `json:"decision"`
	Approver      string         `json:"approver"`
	Timestamp     time.Time      `json:"timestamp"`
	Reason        string         `json:"reason"`
	Modifications map[string]any `json:"modifications,omitempty"`
}

// SideEffect is one observed consequence of dispatching an action.
type SideEffect struct {
	Type      string    `json:"type"`
	Detail    string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionResult captures what the dispatcher did and what came back.
// Dispatch failures are recorded here as Status=failure, not raised.
type ExecutionResult struct {
	ActionID    string          `json:"action_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Status      ExecutionStatus `json:"status"`
	Result      map[string]any  `json:"result"`
	SideEffects []SideEffect    `json:"side_effects"`
}

// Check is one post-execution verification probe outcome.
type Check struct {
	Type   string `json:"type"`
	Passed bool   `json:"passed"`
	Detail string `json:"details,omitempty"`
}

// VerificationResult records the full check battery. Every applicable
// check is run and recorded even when an earlier one fails.
type VerificationResult struct {
	ActionID      string             `json:"action_id"`
	Timestamp     time.Time          `json:"timestamp"`
	OverallStatus VerificationStatus `json:"overall_status"`
	Checks        []Check            `json:"checks"`
	Confidence    float64            `json:"confidence"`
}

// Audit event names, one per lifecycle transition.
const (
	EventActionDeclared        = "action_declared"
	EventRiskAssessed          = "risk_assessed"
	EventApprovalRequested     = "approval_requested"
	EventApprovalReceived      = "approval_received"
	EventExecutionCompleted    = "execution_completed"
	EventVerificationCompleted = "verification_completed"
)

// AuditEvent is one immutable, ordered entry in an action's audit trail.
// Seq is assigned by the store and is strictly increasing per action.
type AuditEvent struct {
	ActionID  string          `json:"action_id"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// HistoryEntry is the denormalized join written once per action after
// verification completes. It feeds the similarity index.
type HistoryEntry struct {
	Action       Action             `json:"action"`
	Risk         RiskAssessment     `json:"risk_assessment"`
	Execution    ExecutionResult    `json:"execution"`
	Verification VerificationResult `json:"verification"`
	RecordedAt   time.Time          `json:"timestamp"`
}
