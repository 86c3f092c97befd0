// Package domain holds the canonical data model for the ATP gateway:
// declared actions, their risk assessments, approvals, execution and
// verification records, and the append-only audit trail.
package domain

import "time"

// Target identifies what an action acts upon: a system (e.g. "argocd"),
// a resource within it ("application"), and an operation ("rollback").
type Target struct {
	System    string `json:"system"`
	Resource  string `json:"resource"`
	Operation string `json:"operation"`
}

// Initiator records who or what declared an action.
type Initiator struct {
	Type      InitiatorType `json:"type"`
	Source    string        `json:"source"`
	SessionID string        `json:"session_id,omitempty"`
}

// Context keys the risk assessor expects to find on an action. The map is
// open; these are the documented keys validated at the API boundary.
const (
	ContextKeyService          = "service"
	ContextKeyNamespace        = "namespace"
	ContextKeyStatus           = "status"
	ContextKeyErrorRate        = "error_rate"
	ContextKeyRecentDeployment = "recent_deployment"
)

// Action is the unit of work: a declared remediation operation tracked
// through a single lifecycle. Payload is opaque data for the dispatcher;
// Context carries the fields the risk assessor scores on.
type Action struct {
	ID         string         `json:"action_id"`
	WorkflowID string         `json:"workflow_id"`
	Initiator  Initiator      `json:"initiator"`
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Target     Target         `json:"target"`
	Payload    map[string]any `json:"payload"`
	Context    map[string]any `json:"context"`
	Status     ActionStatus   `json:"status"`
}

// ContextString returns the named context value as a string, or "" when
// absent or not a string.
func (a *Action) ContextString(key string) string {
	if a.Context == nil {
		return ""
	}
	if v, ok := a.Context[key].(string); ok {
		return v
	}
	return ""
}

// ContextBool returns the named context value as a bool, treating absent
// or non-bool values as false.
func (a *Action) ContextBool(key string) bool {
	if a.Context == nil {
		return false
	}
	if v, ok := a.Context[key].(bool); ok {
		return v
	}
	return false
}
