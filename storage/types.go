package storage

import "time"

// ApplicationStatus is the review lifecycle state of a registered application.
type ApplicationStatus string

// Application review lifecycle states.
const (
	StatusDraft    ApplicationStatus = "draft"
	StatusPending  ApplicationStatus = "pending"
	StatusApproved ApplicationStatus = "approved"
	StatusRejected ApplicationStatus = "rejected"
)

// Application is a registered OAuth client application.
//
// The plaintext client secret is never part of this record: it is returned
// exactly once at creation or rotation and only its bcrypt hash is persisted.
// Public clients have no secret at all.
type Application struct {
	// ID is the internal application identifier (UUID).
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Slug is the URL-safe unique identifier derived from Name.
	Slug string `json:"slug"`

	// Description, LogoURL and WebsiteURL are optional display metadata.
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
	WebsiteURL  string `json:"website_url,omitempty"`

	// Screenshots holds up to four screenshot URLs.
	Screenshots []string `json:"screenshots,omitempty"`

	// RedirectURIs are the registered redirect URIs. Exchange-time redirect
	// URIs must match one of these byte-for-byte.
	RedirectURIs []string `json:"redirect_uris"`

	// Scopes are the scopes this application may request. Empty means all.
	Scopes []string `json:"scopes,omitempty"`

	// Public marks a client that cannot hold a secret (native/browser apps).
	Public bool `json:"public"`

	// Active indicates whether the application may authenticate at all.
	Active bool `json:"active"`

	// Status is the review lifecycle state.
	Status ApplicationStatus `json:"status"`

	// TeamID is the owning team; CreatedBy is the creating user.
	TeamID    string `json:"team_id"`
	CreatedBy string `json:"created_by"`

	// ClientID is the generated OAuth client identifier.
	ClientID string `json:"client_id"`

	// ClientSecretHash is the bcrypt hash of the client secret.
	// Empty for public clients.
	ClientSecretHash string `json:"client_secret_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthorizationCode is the ephemeral grant artifact produced by an approved
// authorization request. It is stored keyed by a hash of the code value
// (never the raw code) and destroyed atomically at exchange time.
type AuthorizationCode struct {
	ApplicationID string   `json:"application_id"`
	ClientID      string   `json:"client_id"`
	UserID        string   `json:"user_id"`
	TeamID        string   `json:"team_id,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`

	// RedirectURI must match the exchange-time redirect URI byte-for-byte.
	RedirectURI string `json:"redirect_uri"`

	// CodeChallenge and CodeChallengeMethod bind the code to a PKCE verifier.
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

// Token kinds.
const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Token is the cached record behind an opaque bearer credential. The token
// value itself is never stored; records are keyed by a SHA-256 hash of it.
type Token struct {
	Kind TokenKind `json:"kind"`

	ApplicationID string   `json:"application_id"`
	ClientID      string   `json:"client_id"`
	UserID        string   `json:"user_id"`
	TeamID        string   `json:"team_id,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Revoked and RevokedAt record explicit revocation. A revoked token
	// never validates, regardless of remaining TTL.
	Revoked   bool      `json:"revoked,omitempty"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`

	// LastUsedAt is refreshed best-effort on successful validation.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`

	// PairHash is the storage hash of the sibling token (the refresh token
	// for an access token and vice versa) so revoking one revokes both.
	PairHash string `json:"pair_hash,omitempty"`
}
