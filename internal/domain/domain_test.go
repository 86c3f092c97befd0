package domain

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	terminal := []ActionStatus{StatusVerified, StatusRejected, StatusRolledBack}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	// verification_failed stays open so an operator can retry or roll back.
	open := []ActionStatus{
		StatusDeclared, StatusRiskAssessed, StatusPendingApproval,
		StatusApproved, StatusExecuting, StatusExecuted, StatusVerificationFailed,
	}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestErrorHTTPStatusCodes(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ErrNotFound("action %s not found", "act_1"), http.StatusNotFound},
		{ErrConflict("wrong state"), http.StatusConflict},
		{ErrForbidden("not approved"), http.StatusForbidden},
		{ErrValidation("service is required"), http.StatusBadRequest},
		{ErrUpstream("scorer unreachable", nil), http.StatusBadGateway},
		{ErrPersistence("write failed", nil), http.StatusInternalServerError},
		{ErrMissingDependency("no execution result"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.HTTPStatusCode(), tc.err.Error())
	}
}

func TestIsTypeUnwrapsWrappedErrors(t *testing.T) {
	base := ErrNotFound("action %s not found", "act_1")
	wrapped := fmt.Errorf("lookup failed: %w", base)

	assert.True(t, IsType(wrapped, ErrorTypeNotFound))
	assert.False(t, IsType(wrapped, ErrorTypeConflict))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeNotFound))
	assert.False(t, IsType(nil, ErrorTypeNotFound))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := ErrPersistence("failed to write action", cause)

	assert.Contains(t, err.Error(), "failed to write action")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, err.Unwrap())
}

func TestContextAccessors(t *testing.T) {
	a := &Action{Context: map[string]any{
		ContextKeyService:          "checkout-api",
		ContextKeyRecentDeployment: true,
		ContextKeyErrorRate:        15.0,
	}}

	assert.Equal(t, "checkout-api", a.ContextString(ContextKeyService))
	assert.Equal(t, "", a.ContextString(ContextKeyNamespace))
	assert.Equal(t, "", a.ContextString(ContextKeyErrorRate))
	assert.True(t, a.ContextBool(ContextKeyRecentDeployment))
	assert.False(t, a.ContextBool(ContextKeyStatus))

	empty := &Action{}
	assert.Equal(t, "", empty.ContextString(ContextKeyService))
	assert.False(t, empty.ContextBool(ContextKeyRecentDeployment))
}
