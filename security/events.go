package security

// EventType is the closed set of security audit event types. Using constants
// keeps event names consistent across components and queryable downstream.
type EventType string

const (
	// Authorization flow events

	// EventAuthorizationSuccess is logged when an authorization request is approved
	EventAuthorizationSuccess EventType = "authorization_success"

	// EventAuthorizationFailure is logged when an authorization request is rejected
	EventAuthorizationFailure EventType = "authorization_failure"

	// Token lifecycle events

	// EventTokenExchangeSuccess is logged when an authorization code is exchanged for tokens
	EventTokenExchangeSuccess EventType = "token_exchange_success"

	// EventTokenExchangeFailure is logged when a token exchange is rejected
	EventTokenExchangeFailure EventType = "token_exchange_failure"

	// EventTokenRefreshed is logged when an access token is refreshed
	EventTokenRefreshed EventType = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked EventType = "token_revoked"

	// EventAllTokensRevoked is logged when every token for a user is invalidated
	EventAllTokensRevoked EventType = "all_tokens_revoked" //nolint:gosec // event type name, not a credential

	// Violation events

	// EventCSRFViolation is logged when state validation fails
	EventCSRFViolation EventType = "csrf_violation"

	// EventPKCEViolation is logged when PKCE validation fails
	EventPKCEViolation EventType = "pkce_violation"

	// EventInvalidRedirect is logged when a redirect URI fails validation or mismatches
	EventInvalidRedirect EventType = "invalid_redirect"

	// EventSuspiciousPattern is logged for heuristic detections (weak verifiers, odd usage)
	EventSuspiciousPattern EventType = "suspicious_pattern"

	// EventRateLimitExceeded is logged when a sliding-window limit is breached
	EventRateLimitExceeded EventType = "rate_limit_exceeded"

	// Credential-compromise signals

	// EventCredentialCompromise is logged when credentials appear to be leaked or shared
	EventCredentialCompromise EventType = "credential_compromise"

	// EventBruteForceAttempt is logged when repeated failures suggest guessing
	EventBruteForceAttempt EventType = "brute_force_attempt"

	// EventAccountLockout is logged when an identity is locked after repeated failures
	EventAccountLockout EventType = "account_lockout"

	// EventEscalationAttempt is logged when a client requests scopes beyond its grant
	EventEscalationAttempt EventType = "escalation_attempt"

	// EventBreachAttempt is logged for direct attacks (code replay, token forgery)
	EventBreachAttempt EventType = "breach_attempt"
)

// Severity ranks audit events. Critical events bypass batching and flush
// synchronously.
type Severity string

// Severities, lowest to highest.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}
