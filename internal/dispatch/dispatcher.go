// Package dispatch sends approved actions to the external automation
// backend. Upstream failures are data, not errors: every outcome comes
// back as an ExecutionResult and the lifecycle keeps moving.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oncallops/atp-gateway/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = client }
}

// WithTimeout bounds how long the backend may take to respond. Exceeding
// it is recorded as a failed execution with a timeout detail.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithHighRiskEndpoint routes high-risk actions to a separate webhook.
func WithHighRiskEndpoint(url string) Option {
	return func(d *Dispatcher) { d.highRiskURL = url }
}

// Dispatcher executes actions through webhook endpoints, one per risk
// tier. High-risk actions go to the high-risk endpoint when configured;
// everything else uses the standard one.
type Dispatcher struct {
	standardURL string
	highRiskURL string
	timeout     time.Duration
	httpClient  *http.Client
}

// New creates a dispatcher with the standard endpoint.
func New(standardURL string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		standardURL: standardURL,
		timeout:     defaultTimeout,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// dispatchRequest is the wire shape sent to the automation backend.
type dispatchRequest struct {
	ActionID string           `json:"action_id"`
	Target   domain.Target    `json:"target"`
	Payload  map[string]any   `json:"payload"`
	Context  map[string]any   `json:"context"`
	Approval dispatchApprover `json:"approval"`
}

type dispatchApprover struct {
	Approver  string    `json:"approver"`
	Timestamp time.Time `json:"timestamp"`
}

// Endpoint returns the destination for a risk level, honouring the
// per-request override used by the execute API.
func (d *Dispatcher) Endpoint(level domain.RiskLevel, override string) string {
	if override != "" {
		return override
	}
	if level == domain.RiskHigh && d.highRiskURL != "" {
		return d.highRiskURL
	}
	return d.standardURL
}

// Execute sends the action to its endpoint and captures the outcome.
// Wall-clock start and completion times are recorded on every path, and
// at least one side effect describes what was dispatched even on failure.
func (d *Dispatcher) Execute(ctx context.Context, action *domain.Action, decision *domain.ApprovalDecision, level domain.RiskLevel, override string) *domain.ExecutionResult {
	endpoint := d.Endpoint(level, override)
	startedAt := time.Now().UTC()

	result := &domain.ExecutionResult{
		ActionID:  action.ID,
		StartedAt: startedAt,
		SideEffects: []domain.SideEffect{{
			Type:      "webhook_dispatched",
			Detail:    fmt.Sprintf("workflow %s dispatched to %s", action.WorkflowID, endpoint),
			Timestamp: startedAt,
		}},
	}

	body, err := json.Marshal(dispatchRequest{
		ActionID: action.ID,
		Target:   action.Target,
		Payload:  action.Payload,
		Context:  action.Context,
		Approval: dispatchApprover{Approver: decision.Approver, Timestamp: decision.Timestamp},
	})
	if err != nil {
		return d.failed(result, fmt.Sprintf("failed to encode dispatch request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return d.failed(result, fmt.Sprintf("failed to build dispatch request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		detail := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("timeout after %s waiting for %s", d.timeout, endpoint)
		}
		return d.failed(result, detail)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return d.failed(result, fmt.Sprintf("failed to read backend response: %v", err))
	}

	var payload map[string]any
	if err := json.Unmarshal(respBody, &payload); err != nil || payload == nil {
		// Backends that reply with non-JSON bodies still get recorded.
		payload = map[string]any{"raw": string(respBody)}
	}

	result.CompletedAt = time.Now().UTC()
	result.Result = payload
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Status = domain.ExecutionSuccess
	} else {
		result.Status = domain.ExecutionFailure
		result.Result["error"] = fmt.Sprintf("backend returned status %d", resp.StatusCode)
	}
	return result
}

func (d *Dispatcher) failed(result *domain.ExecutionResult, detail string) *domain.ExecutionResult {
	result.CompletedAt = time.Now().UTC()
	result.Status = domain.ExecutionFailure
	result.Result = map[string]any{"error": detail}
	return result
}
