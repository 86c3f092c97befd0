// Package api binds the gateway's JSON endpoints to the orchestrator.
// Boundary validation happens here; downstream components trust the
// documented context keys to be present.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oncallops/atp-gateway/internal/domain"
	"github.com/oncallops/atp-gateway/internal/orchestrator"
	"github.com/oncallops/atp-gateway/internal/server"
	"github.com/oncallops/atp-gateway/internal/store"
)

const (
	serviceName       = "atp-gateway"
	defaultWorkflowID = "wf_service_remediation_v1"
)

// Handler serves the /atp/v1 surface.
type Handler struct {
	orch    *orchestrator.Orchestrator
	store   store.Store
	version string
}

// NewHandler builds the API handler.
func NewHandler(orch *orchestrator.Orchestrator, s store.Store, version string) *Handler {
	return &Handler{orch: orch, store: s, version: version}
}

// Routes mounts the API under /atp/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/atp/v1", func(r chi.Router) {
		r.Post("/actions/declare", h.DeclareAction)
		r.Get("/actions", h.ListActions)
		r.Post("/actions/{id}/approve", h.ApproveAction)
		r.Post("/actions/{id}/execute", h.ExecuteAction)
		r.Get("/actions/{id}/audit-trail", h.AuditTrail)
		r.Get("/actions/{id}/explain", h.ExplainAction)
		r.Get("/health", h.Health)
	})
}

// declareRequest accepts both the monitoring-webhook shape (flat service
// fields) and a fully-specified declaration with target and payload.
type declareRequest struct {
	Service          string `json:"service"`
	Namespace        string `json:"namespace"`
	Status           string `json:"status"`
	ErrorRate        string `json:"error_rate,omitempty"`
	RecentDeployment bool   `json:"recent_deployment,omitempty"`

	ActionType string         `json:"action_type,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Target     *domain.Target `json:"target,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type declareResponse struct {
	ActionID       string                 `json:"action_id"`
	RiskAssessment *domain.RiskAssessment `json:"risk_assessment"`
	Explanation    string                 `json:"explanation"`
	NextStep       string                 `json:"next_step"`
}

// DeclareAction is the entry point for remediation webhooks: it declares
// the action, assesses risk, and reports whether approval is required.
func (h *Handler) DeclareAction(w http.ResponseWriter, r *http.Request) {
	var req declareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("malformed request body: %v", err))
		return
	}

	input, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.orch.Declare(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "action_id", out.Action.ID)
	server.AddLogField(r.Context(), "risk_level", string(out.Assessment.Level))
	writeJSON(w, http.StatusOK, declareResponse{
		ActionID:       out.Action.ID,
		RiskAssessment: out.Assessment,
		Explanation:    out.Explanation,
		NextStep:       out.NextStep,
	})
}

// toInput validates the declaration and fills in the remediation-workflow
// defaults for the flat webhook shape.
func (r *declareRequest) toInput() (orchestrator.DeclareInput, error) {
	ctx := r.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	service, _ := ctx[domain.ContextKeyService].(string)
	if service == "" {
		service = r.Service
	}
	namespace, _ := ctx[domain.ContextKeyNamespace].(string)
	if namespace == "" {
		namespace = r.Namespace
	}

	if service == "" {
		return orchestrator.DeclareInput{}, domain.ErrValidation("service is required")
	}
	if namespace == "" {
		return orchestrator.DeclareInput{}, domain.ErrValidation("namespace is required")
	}

	ctx[domain.ContextKeyService] = service
	ctx[domain.ContextKeyNamespace] = namespace
	if _, ok := ctx[domain.ContextKeyStatus]; !ok {
		ctx[domain.ContextKeyStatus] = r.Status
	}
	if r.ErrorRate != "" {
		ctx[domain.ContextKeyErrorRate] = r.ErrorRate
	}
	if _, ok := ctx[domain.ContextKeyRecentDeployment]; !ok {
		ctx[domain.ContextKeyRecentDeployment] = r.RecentDeployment
	}

	target := domain.Target{System: "argocd", Resource: "application", Operation: "rollback"}
	if r.Target != nil {
		target = *r.Target
	}

	payload := r.Payload
	if payload == nil {
		payload = map[string]any{
			"application_name": service,
			"namespace":        namespace,
			"target_revision":  "previous",
		}
	}

	actionType := r.ActionType
	if actionType == "" {
		actionType = "service.remediation"
	}
	workflowID := r.WorkflowID
	if workflowID == "" {
		workflowID = defaultWorkflowID
	}

	return orchestrator.DeclareInput{
		WorkflowID: workflowID,
		ActionType: actionType,
		Initiator: domain.Initiator{
			Type:      domain.InitiatorWebhook,
			Source:    "uptime_kuma",
			SessionID: "session_" + uuid.New().String()[:8],
		},
		Target:  target,
		Payload: payload,
		Context: ctx,
	}, nil
}

type approveRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason"`
}

// ApproveAction records a human approval for a pending action.
func (h *Handler) ApproveAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("malformed request body: %v", err))
		return
	}
	if req.Approver == "" {
		writeError(w, r, domain.ErrValidation("approver is required"))
		return
	}

	if _, err := h.orch.Decide(r.Context(), actionID, domain.DecisionApproved, req.Approver, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"action_id": actionID,
		"status":    "approved",
		"message":   "Action approved and queued for execution",
	})
}

type executeRequest struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

// ExecuteAction dispatches an approved action and returns both the
// execution and verification outcomes.
func (h *Handler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	var req executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrValidation("malformed request body: %v", err))
			return
		}
	}

	out, err := h.orch.Execute(r.Context(), actionID, req.WebhookURL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"action_id":    actionID,
		"execution":    out.Execution,
		"verification": out.Verification,
	})
}

// AuditTrail returns the ordered audit events plus the latest snapshot of
// every lifecycle record.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	trail, err := h.store.AuditTrail(r.Context(), actionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"action_id":   actionID,
		"audit_trail": trail,
	}
	if action, err := h.store.GetAction(r.Context(), actionID); err == nil {
		resp["action"] = action
	}
	if risk, err := h.store.GetRiskAssessment(r.Context(), actionID); err == nil {
		resp["risk_assessment"] = risk
	}
	if decision, err := h.store.GetApprovalDecision(r.Context(), actionID); err == nil {
		resp["approval"] = decision
	}
	if exec, err := h.store.GetExecutionResult(r.Context(), actionID); err == nil {
		resp["execution"] = exec
	}
	if verification, err := h.store.GetVerificationResult(r.Context(), actionID); err == nil {
		resp["verification"] = verification
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExplainAction returns the natural-language rationale for a stored
// assessment.
func (h *Handler) ExplainAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	explanation, err := h.orch.Explain(r.Context(), actionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action_id":   actionID,
		"explanation": explanation,
	})
}

// ListActions returns every known action.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.store.ListActions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   serviceName,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to their HTTP status and logs them on
// the request line.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	status := http.StatusInternalServerError
	errType := string(domain.ErrorTypePersistence)
	message := "internal error"

	var ge *domain.Error
	if errors.As(err, &ge) {
		status = ge.HTTPStatusCode()
		errType = string(ge.Type)
		message = ge.Message
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}
