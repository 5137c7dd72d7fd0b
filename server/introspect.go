package server

import (
	"context"
	"errors"
	"strings"

	"github.com/ledgerline/oauth-core/storage"
)

// IntrospectionRequest is an RFC 7662 introspection call. Client credentials
// are mandatory: unauthenticated callers learn nothing, not even "inactive".
type IntrospectionRequest struct {
	Token        string
	ClientID     string
	ClientSecret string
}

// IntrospectionResponse is the RFC 7662 response body. Only Active is set
// for tokens that are unknown, expired, or revoked.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// IntrospectToken authenticates the calling client and reports the state of
// a token. Authentication failures are surfaced as errors; every token-side
// failure collapses to {"active": false} so the endpoint cannot be used to
// enumerate the token space.
func (s *Server) IntrospectToken(ctx context.Context, req IntrospectionRequest) (*IntrospectionResponse, error) {
	if _, err := s.ValidateClientCredentials(ctx, req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(req.Token, AccessTokenPrefix) && !strings.HasPrefix(req.Token, RefreshTokenPrefix) {
		return &IntrospectionResponse{Active: false}, nil
	}

	opCtx, cancel := s.opCtx(ctx)
	record, err := s.store.GetToken(opCtx, hashValue(req.Token))
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			return nil, ErrAuthenticationFailed
		}
		return &IntrospectionResponse{Active: false}, nil
	}

	if record.Revoked || tokenExpired(record.ExpiresAt) {
		return &IntrospectionResponse{Active: false}, nil
	}

	return &IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(record.Scopes, " "),
		ClientID:  record.ClientID,
		Username:  record.UserID,
		TokenType: "Bearer",
		Exp:       record.ExpiresAt.Unix(),
		Iat:       record.IssuedAt.Unix(),
		Sub:       record.UserID,
		Aud:       record.ApplicationID,
		Iss:       s.cfg.Issuer,
	}, nil
}
