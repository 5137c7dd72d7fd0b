package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Callers match these with
// errors.Is; the server layer collapses them into generic grant errors before
// anything reaches a client.
var (
	// ErrAuthorizationCodeNotFound means the code is absent: never issued,
	// already consumed, or evicted by TTL. These cases are indistinguishable
	// on purpose.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrTokenNotFound means no record exists under the token hash.
	ErrTokenNotFound = errors.New("token not found")

	// ErrStateNotFound means the transient state key is absent or consumed.
	ErrStateNotFound = errors.New("state not found")

	// ErrApplicationNotFound means no application matches the lookup key.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrStoreUnavailable wraps infrastructure failures (connection refused,
	// timeout). The server fails open for rate limits and closed for
	// token/code lookups when it sees this.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FlowStore holds one-time authorization artifacts: codes and transient
// consume-once state (CSRF state, server-side PKCE verifiers).
type FlowStore interface {
	// SaveAuthorizationCode stores a code record under codeHash with a TTL
	// matching the record's expiry.
	SaveAuthorizationCode(ctx context.Context, codeHash string, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically fetches and deletes the record in
	// a single round trip. Under concurrent calls with the same hash exactly
	// one caller observes the record; the rest get
	// ErrAuthorizationCodeNotFound.
	ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	// SaveState stores an opaque transient value with a TTL.
	SaveState(ctx context.Context, key, value string, ttl time.Duration) error

	// ConsumeState atomically fetches and deletes a transient value.
	ConsumeState(ctx context.Context, key string) (string, error)
}

// TokenStore holds cached token records keyed by token hash, plus the
// per-user membership sets that make bulk invalidation possible.
type TokenStore interface {
	SaveToken(ctx context.Context, tokenHash string, token *Token, ttl time.Duration) error
	GetToken(ctx context.Context, tokenHash string) (*Token, error)

	// ConsumeToken atomically fetches and deletes a token record. Used for
	// refresh grants, which are single-use under rotation.
	ConsumeToken(ctx context.Context, tokenHash string) (*Token, error)

	// DeleteToken removes a token record. Deleting an absent token is not
	// an error.
	DeleteToken(ctx context.Context, tokenHash string) error

	// TouchToken updates the record's last-used timestamp best-effort,
	// preserving the remaining TTL.
	TouchToken(ctx context.Context, tokenHash string, usedAt time.Time) error

	// AddUserToken registers tokenHash in the user's token set so all of a
	// user's sessions can be found and invalidated together.
	AddUserToken(ctx context.Context, userID, tokenHash string) error
	GetUserTokens(ctx context.Context, userID string) ([]string, error)
	RemoveUserToken(ctx context.Context, userID, tokenHash string) error
	DeleteUserTokens(ctx context.Context, userID string) error
}

// ApplicationCache is the TTL-scoped cache in front of the Repository for
// application metadata, avoiding a persistence round trip per validation.
type ApplicationCache interface {
	CacheApplication(ctx context.Context, app *Application, ttl time.Duration) error
	GetCachedApplication(ctx context.Context, clientID string) (*Application, error)
	InvalidateApplication(ctx context.Context, clientID string) error
}

// RateLimitStore provides the sliding-window counter primitive.
type RateLimitStore interface {
	// IncrementWindow atomically increments the counter at key, setting its
	// TTL to window on first increment, and returns the post-increment
	// count. Counters roll over naturally as callers derive key from
	// floor(now/window).
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Store is the full contract the server wires against. Both backends
// implement all of it.
type Store interface {
	FlowStore
	TokenStore
	ApplicationCache
	RateLimitStore
}
