// Package verify runs the post-execution check battery. Every check runs
// and is recorded even when an earlier one fails, so the audit trail
// always shows the full picture.
package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oncallops/atp-gateway/internal/domain"
)

const engineConfidence = 0.95

// HealthProber checks whether the affected target is healthy after
// execution.
type HealthProber interface {
	Probe(ctx context.Context, action *domain.Action) (healthy bool, detail string)
}

// StaticProber reports a fixed outcome. Used when no downstream health
// endpoint is configured.
type StaticProber struct {
	Healthy bool
	Detail  string
}

func (p StaticProber) Probe(_ context.Context, _ *domain.Action) (bool, string) {
	return p.Healthy, p.Detail
}

// HTTPProber probes a health endpoint over HTTP. Any 2xx response counts
// as healthy.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context, _ *domain.Action) (bool, string) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("failed to build health probe: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("health probe failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, fmt.Sprintf("service responding with %d", resp.StatusCode)
	}
	return false, fmt.Sprintf("service responding with %d", resp.StatusCode)
}

// Engine runs the fixed check battery: execution status, downstream
// health, and side-effect scope.
type Engine struct {
	prober HealthProber
}

// New creates an engine. A nil prober defaults to a static healthy probe.
func New(prober HealthProber) *Engine {
	if prober == nil {
		prober = StaticProber{Healthy: true, Detail: "no health endpoint configured, assuming healthy"}
	}
	return &Engine{prober: prober}
}

// Verify runs all checks and derives the overall status. The battery
// never short-circuits: a failed execution still gets a health probe and
// a side-effect scope check, because verifying a failed execution records
// that no partial side effects occurred.
func (e *Engine) Verify(ctx context.Context, action *domain.Action, exec *domain.ExecutionResult) *domain.VerificationResult {
	checks := []domain.Check{
		executionStatusCheck(exec),
		e.healthCheck(ctx, action),
		sideEffectScopeCheck(action, exec),
	}

	overall := domain.VerificationVerified
	for _, c := range checks {
		if !c.Passed {
			overall = domain.VerificationFailed
			break
		}
	}

	return &domain.VerificationResult{
		ActionID:      action.ID,
		Timestamp:     time.Now().UTC(),
		OverallStatus: overall,
		Checks:        checks,
		Confidence:    engineConfidence,
	}
}

func executionStatusCheck(exec *domain.ExecutionResult) domain.Check {
	return domain.Check{
		Type:   "execution_status",
		Passed: exec.Status == domain.ExecutionSuccess,
		Detail: fmt.Sprintf("execution status: %s", exec.Status),
	}
}

func (e *Engine) healthCheck(ctx context.Context, action *domain.Action) domain.Check {
	healthy, detail := e.prober.Probe(ctx, action)
	return domain.Check{
		Type:   "service_health",
		Passed: healthy,
		Detail: detail,
	}
}

// sideEffectScopeCheck flags side effects that do not reference the
// declared target or workflow, i.e. changes outside the declared scope.
func sideEffectScopeCheck(action *domain.Action, exec *domain.ExecutionResult) domain.Check {
	for _, se := range exec.SideEffects {
		if se.Detail == "" {
			continue
		}
		if strings.Contains(se.Detail, action.WorkflowID) ||
			strings.Contains(se.Detail, action.Target.System) ||
			strings.Contains(se.Detail, action.Target.Resource) {
			continue
		}
		return domain.Check{
			Type:   "side_effects",
			Passed: false,
			Detail: fmt.Sprintf("side effect %q does not reference the declared target", se.Type),
		}
	}
	return domain.Check{
		Type:   "side_effects",
		Passed: true,
		Detail: "no unexpected changes detected outside the declared target",
	}
}
