// Package approval maps risk levels to approval requirements. Resolve is
// a pure function: no I/O, deterministic, and fail-safe for risk levels it
// does not recognize.
package approval

import "github.com/oncallops/atp-gateway/internal/domain"

const deadline = "24h"

// Resolve derives the approval requirement for an assessed action.
// Unknown risk levels never auto-approve; they route to the security
// group at high priority.
func Resolve(level domain.RiskLevel, actionID string, score float64) domain.ApprovalRequirement {
	req := domain.ApprovalRequirement{
		ActionID:  actionID,
		RiskScore: score,
		Deadline:  deadline,
	}

	switch level {
	case domain.RiskLow:
		req.Type = domain.ApprovalAuto
		req.Approvers = []string{"system"}
		req.Priority = domain.PriorityLow
		req.Reason = "Low risk action auto-approved"
	case domain.RiskMedium:
		req.Type = domain.ApprovalHumanRequired
		req.Approvers = []string{"on_call"}
		req.Priority = domain.PriorityLow
		req.Reason = "Medium risk action requires human approval"
	case domain.RiskHigh:
		req.Type = domain.ApprovalHumanRequired
		req.Approvers = []string{"incident_commanders"}
		req.Priority = domain.PriorityHigh
		req.Reason = "High risk action requires incident commander approval"
	default:
		req.Type = domain.ApprovalHumanRequired
		req.Approvers = []string{"security"}
		req.Priority = domain.PriorityHigh
		req.Reason = "Unknown risk level requires security team approval"
	}
	return req
}
