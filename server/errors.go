package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidGrant      = "invalid_grant"
	ErrorCodeInvalidClient     = "invalid_client"
	ErrorCodeInvalidScope      = "invalid_scope"
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeInsufficientScope = "insufficient_scope"
	ErrorCodeServerError       = "server_error"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// Grant and credential failures surfaced by the server. All of them are
// deliberately generic: a caller can never tell whether a code was consumed,
// expired or never issued, or whether a client id or its secret was wrong.
// The audit trail records the specific reason server-side.
var (
	// ErrInvalidGrant covers absent, consumed, or malformed codes and
	// refresh tokens.
	ErrInvalidGrant = errors.New("invalid or expired grant")

	// ErrExpiredGrant is the defensive logical-expiry failure for artifacts
	// that outlived their TTL eviction.
	ErrExpiredGrant = errors.New("grant expired")

	// ErrRedirectMismatch means the exchange-time redirect URI is not
	// byte-for-byte identical to the one recorded at issuance.
	ErrRedirectMismatch = errors.New("redirect URI mismatch")

	// ErrPKCEMismatch means PKCE verification failed: missing verifier with
	// a recorded challenge, or a verifier whose recomputed challenge
	// diverges.
	ErrPKCEMismatch = errors.New("PKCE verification failed")

	// ErrInsufficientScope means the resolved session lacks a required
	// scope.
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrAuthenticationFailed covers bad client credentials, invalid bearer
	// tokens, and fail-closed store outages during credential checks.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// ValidationError reports malformed caller input. Unlike the grant errors it
// names the offending field; registration input is not a credential and
// detail does not aid guessing.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// OAuthError is the RFC 6749 wire representation of a failure.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

// Error implements the error interface.
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth wire error.
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// WireError maps a server error to its RFC 6749 wire representation. The
// descriptions stay generic on purpose.
func WireError(err error) *OAuthError {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return NewOAuthError(ErrorCodeInvalidRequest, validationErr.Error(), http.StatusBadRequest)
	}

	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	switch {
	case errors.Is(err, ErrInvalidGrant), errors.Is(err, ErrExpiredGrant):
		return NewOAuthError(ErrorCodeInvalidGrant, "invalid or expired grant", http.StatusBadRequest)
	case errors.Is(err, ErrRedirectMismatch):
		return NewOAuthError(ErrorCodeInvalidGrant, "redirect URI mismatch", http.StatusBadRequest)
	case errors.Is(err, ErrPKCEMismatch):
		return NewOAuthError(ErrorCodeInvalidGrant, "PKCE verification failed", http.StatusBadRequest)
	case errors.Is(err, ErrInsufficientScope):
		return NewOAuthError(ErrorCodeInsufficientScope, "insufficient scope", http.StatusForbidden)
	case errors.Is(err, ErrAuthenticationFailed):
		return NewOAuthError(ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
	default:
		return NewOAuthError(ErrorCodeServerError, "internal error", http.StatusInternalServerError)
	}
}
