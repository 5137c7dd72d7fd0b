package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWireError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"validation error", NewValidationError("name", "name is required"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"expired grant", ErrExpiredGrant, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"redirect mismatch", ErrRedirectMismatch, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"pkce mismatch", ErrPKCEMismatch, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"insufficient scope", ErrInsufficientScope, ErrorCodeInsufficientScope, http.StatusForbidden},
		{"authentication failed", ErrAuthenticationFailed, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"wrapped sentinel", fmt.Errorf("token endpoint: %w", ErrInvalidGrant), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"unknown error", errors.New("disk on fire"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wire := WireError(tc.err)
			if wire.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", wire.Code, tc.wantCode)
			}
			if wire.Status != tc.wantStatus {
				t.Errorf("status = %d, want %d", wire.Status, tc.wantStatus)
			}
		})
	}
}

func TestWireError_PassesThroughOAuthError(t *testing.T) {
	orig := NewOAuthError(ErrorCodeRateLimitExceeded, "slow down", http.StatusTooManyRequests)
	if got := WireError(orig); got != orig {
		t.Errorf("WireError rewrapped an existing *OAuthError: %+v", got)
	}
}

func TestWireError_NeverLeaksInternalDetail(t *testing.T) {
	wire := WireError(errors.New("pgx: connection to 10.0.0.5:5432 refused"))
	if wire.Description != "internal error" {
		t.Errorf("internal failure leaked detail: %q", wire.Description)
	}
}

func TestValidationError_Error(t *testing.T) {
	if got := NewValidationError("name", "required").Error(); got != "name: required" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ValidationError{Message: "bad input"}).Error(); got != "bad input" {
		t.Errorf("Error() without field = %q", got)
	}
}
