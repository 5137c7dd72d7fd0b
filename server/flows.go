package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerline/oauth-core/instrumentation"
	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/storage"
)

// Session is the resolved identity behind a validated access token. It is
// what the middleware hands to domain endpoints.
type Session struct {
	UserID        string
	TeamID        string
	ApplicationID string
	ClientID      string
	Scopes        []string
	TokenType     string
	ExpiresAt     time.Time
}

// HasScope reports whether the session carries scope.
func (s *Session) HasScope(scope string) bool {
	for _, granted := range s.Scopes {
		if granted == scope {
			return true
		}
	}
	return false
}

// TokenPair is the result of a successful exchange or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// CreateAuthorizationCodeInput describes an approved authorization request.
type CreateAuthorizationCodeInput struct {
	ApplicationID string
	UserID        string
	TeamID        string
	Scopes        []string
	RedirectURI   string

	CodeChallenge       string
	CodeChallengeMethod string

	// IPAddress feeds audit context; it never influences the decision.
	IPAddress string
}

// ExchangeAuthorizationCodeInput is a token-endpoint exchange request. The
// client is expected to have been authenticated already (or to be public);
// ApplicationID identifies it.
type ExchangeAuthorizationCodeInput struct {
	Code          string
	RedirectURI   string
	ApplicationID string
	CodeVerifier  string
	IPAddress     string
}

// CreateAuthorizationCode mints a single-use authorization code bound to the
// approved request and stores it under a hash of its value with the fixed
// code TTL. The raw code value exists only in the return value and the
// redirect that carries it.
func (s *Server) CreateAuthorizationCode(ctx context.Context, in CreateAuthorizationCodeInput) (string, error) {
	app, err := s.repo.GetApplicationByID(ctx, in.ApplicationID)
	if err != nil {
		if errors.Is(err, storage.ErrApplicationNotFound) {
			return "", ErrInvalidGrant
		}
		return "", fmt.Errorf("failed to load application: %w", err)
	}

	if !redirectRegistered(app.RedirectURIs, in.RedirectURI) {
		s.audit.Record(security.Event{
			Type:      security.EventInvalidRedirect,
			Severity:  security.SeverityHigh,
			UserID:    in.UserID,
			ClientID:  app.ClientID,
			IPAddress: in.IPAddress,
			Details:   map[string]any{"redirect_uri": in.RedirectURI},
		})
		return "", ErrRedirectMismatch
	}

	if !scopesAllowed(in.Scopes, app.Scopes) {
		s.audit.Record(security.Event{
			Type:      security.EventEscalationAttempt,
			Severity:  security.SeverityHigh,
			UserID:    in.UserID,
			ClientID:  app.ClientID,
			IPAddress: in.IPAddress,
			Details:   map[string]any{"requested_scopes": in.Scopes},
		})
		return "", NewValidationError("scope", "requested scope exceeds application grant")
	}

	// Public clients cannot hold a secret; the verifier is the only thing
	// binding the exchange to the party that started the flow.
	if app.Public && s.pkce.RequireForPublicClients && in.CodeChallenge == "" {
		if s.metrics != nil {
			s.metrics.PKCEValidationFailed.Add(ctx, 1)
		}
		s.audit.LogPKCEViolation(in.UserID, app.ClientID, "pkce_required_for_public_client")
		return "", NewValidationError("code_challenge", "PKCE is required for public clients")
	}

	code := newOpaqueValue(AuthorizationCodePrefix)
	issued := now()

	record := &storage.AuthorizationCode{
		ApplicationID:       app.ID,
		ClientID:            app.ClientID,
		UserID:              in.UserID,
		TeamID:              in.TeamID,
		Scopes:              in.Scopes,
		RedirectURI:         in.RedirectURI,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		CreatedAt:           issued,
		ExpiresAt:           issued.Add(s.cfg.AuthorizationCodeTTL),
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.store.SaveAuthorizationCode(opCtx, hashValue(code), record); err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.CodeIssued, nil)
	}
	s.audit.LogAuthorizationSuccess(in.UserID, app.ClientID, in.IPAddress)

	return code, nil
}

// ExchangeAuthorizationCode consumes a code exactly once and mints a token
// pair. The consume is a single atomic fetch-and-delete round trip: under
// concurrent exchanges of the same code exactly one succeeds and the rest
// fail with ErrInvalidGrant.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, in ExchangeAuthorizationCodeInput) (*TokenPair, error) {
	if !strings.HasPrefix(in.Code, AuthorizationCodePrefix) {
		s.audit.LogTokenExchangeFailure("", "", in.IPAddress, "malformed_code", false)
		return nil, ErrInvalidGrant
	}

	opCtx, cancel := s.opCtx(ctx)
	code, err := s.store.ConsumeAuthorizationCode(opCtx, hashValue(in.Code))
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			// Fail closed: an unreachable store must not validate grants.
			s.audit.LogTokenExchangeFailure("", "", in.IPAddress, "store_unavailable", false)
			return nil, ErrAuthenticationFailed
		}
		// Never issued, already consumed, or expired out of the cache;
		// the caller cannot tell which.
		s.audit.LogTokenExchangeFailure("", "", in.IPAddress, "code_not_found_or_consumed", false)
		return nil, ErrInvalidGrant
	}

	if code.ApplicationID != in.ApplicationID {
		s.audit.Record(security.Event{
			Type:      security.EventBreachAttempt,
			Severity:  security.SeverityHigh,
			UserID:    code.UserID,
			ClientID:  code.ClientID,
			IPAddress: in.IPAddress,
			Details:   map[string]any{"reason": "code_presented_by_wrong_application"},
		})
		return nil, ErrInvalidGrant
	}

	// Defensive: TTL eviction should have removed an expired code already.
	if now().After(code.ExpiresAt) {
		s.audit.LogTokenExchangeFailure(code.UserID, code.ClientID, in.IPAddress, "code_expired", false)
		return nil, ErrExpiredGrant
	}

	if code.RedirectURI != in.RedirectURI {
		s.audit.Record(security.Event{
			Type:      security.EventInvalidRedirect,
			Severity:  security.SeverityHigh,
			UserID:    code.UserID,
			ClientID:  code.ClientID,
			IPAddress: in.IPAddress,
			Details: map[string]any{
				"reason": "exchange_redirect_mismatch",
			},
		})
		return nil, ErrRedirectMismatch
	}

	if err := s.verifyPKCE(ctx, code, in); err != nil {
		return nil, err
	}

	pair, err := s.mintTokenPair(ctx, code.ApplicationID, code.ClientID, code.UserID, code.TeamID, code.Scopes)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.CodeExchanged, nil)
	}
	s.audit.LogTokenExchangeSuccess(code.UserID, code.ClientID, code.Scopes)

	return pair, nil
}

// verifyPKCE runs the PKCE check for every exchange. Codes issued without a
// challenge still pass through the validator so the public-client requirement
// holds even if a challenge-less code reaches the store.
func (s *Server) verifyPKCE(ctx context.Context, code *storage.AuthorizationCode, in ExchangeAuthorizationCodeInput) error {
	isPublic := false
	if app, err := s.getApplication(ctx, code.ClientID); err == nil {
		isPublic = app.Public
	}

	result := s.pkce.ValidateFlow(in.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod, isPublic)
	if !result.Valid {
		if s.metrics != nil {
			s.metrics.PKCEValidationFailed.Add(ctx, 1)
		}
		s.audit.LogPKCEViolation(code.UserID, code.ClientID, result.Reason)
		return ErrPKCEMismatch
	}

	if result.WeakVerifier {
		// Advisory only: RFC-valid verifiers are accepted however weak,
		// but the finding is kept visible for audit.
		s.audit.LogSuspiciousPattern(code.UserID, code.ClientID, "weak_pkce_verifier", map[string]any{
			"findings": result.WeakReasons,
		})
	}

	return nil
}

// mintTokenPair mints the access/refresh pair for a grant, caches both
// records under hashes of their values, cross-links them for joint
// revocation, and registers them in the user's token set.
func (s *Server) mintTokenPair(ctx context.Context, applicationID, clientID, userID, teamID string, scopes []string) (*TokenPair, error) {
	accessValue := newOpaqueValue(AccessTokenPrefix)
	refreshValue := newOpaqueValue(RefreshTokenPrefix)
	accessHash := hashValue(accessValue)
	refreshHash := hashValue(refreshValue)

	issued := now()

	access := &storage.Token{
		Kind:          storage.TokenKindAccess,
		ApplicationID: applicationID,
		ClientID:      clientID,
		UserID:        userID,
		TeamID:        teamID,
		Scopes:        scopes,
		IssuedAt:      issued,
		ExpiresAt:     issued.Add(s.cfg.AccessTokenTTL),
		PairHash:      refreshHash,
	}
	refresh := &storage.Token{
		Kind:          storage.TokenKindRefresh,
		ApplicationID: applicationID,
		ClientID:      clientID,
		UserID:        userID,
		TeamID:        teamID,
		Scopes:        scopes,
		IssuedAt:      issued,
		ExpiresAt:     issued.Add(s.cfg.RefreshTokenTTL),
		PairHash:      accessHash,
	}

	opCtx, cancel := s.opCtx(ctx)
	err := s.store.SaveToken(opCtx, accessHash, access, s.cfg.AccessTokenTTL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	opCtx, cancel = s.opCtx(ctx)
	err = s.store.SaveToken(opCtx, refreshHash, refresh, s.cfg.RefreshTokenTTL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	for _, hash := range []string{accessHash, refreshHash} {
		opCtx, cancel = s.opCtx(ctx)
		err = s.store.AddUserToken(opCtx, userID, hash)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to register token in user set",
				"error", err)
		}
	}

	// Long-term history is best-effort: issuance does not fail when the
	// repository cannot record it.
	if err := s.repo.RecordToken(ctx, access); err != nil {
		s.logger.Warn("Failed to record token history", "error", err)
	}

	return &TokenPair{
		AccessToken:  accessValue,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:        strings.Join(scopes, " "),
	}, nil
}

// ValidateAccessToken resolves a bearer token to a Session. Every failure,
// whatever its cause, returns ErrAuthenticationFailed: external callers can
// never distinguish expired from revoked from unknown. The audit trail keeps
// the distinction.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*Session, error) {
	// Format fast-path: a malformed value is rejected without touching the
	// store.
	if !strings.HasPrefix(token, AccessTokenPrefix) {
		return nil, ErrAuthenticationFailed
	}

	tokenHash := hashValue(token)

	opCtx, cancel := s.opCtx(ctx)
	record, err := s.store.GetToken(opCtx, tokenHash)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			// Fail closed.
			s.logger.Warn("Token validation failed closed", "error", err)
		}
		if s.metrics != nil {
			instrumentation.RecordResult(ctx, s.metrics.TokenValidated, err)
		}
		return nil, ErrAuthenticationFailed
	}

	if record.Revoked {
		s.audit.Record(security.Event{
			Type:     security.EventSuspiciousPattern,
			Severity: security.SeverityMedium,
			UserID:   record.UserID,
			ClientID: record.ClientID,
			Details:  map[string]any{"pattern": "revoked_token_presented"},
		})
		return nil, ErrAuthenticationFailed
	}

	if tokenExpired(record.ExpiresAt) {
		return nil, ErrAuthenticationFailed
	}

	// Last-used refresh is best-effort and off the request path.
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
		defer cancel()
		if err := s.store.TouchToken(touchCtx, tokenHash, time.Now()); err != nil {
			s.logger.Debug("Failed to refresh token last-used timestamp", "error", err)
		}
	}()

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.TokenValidated, nil)
	}

	return &Session{
		UserID:        record.UserID,
		TeamID:        record.TeamID,
		ApplicationID: record.ApplicationID,
		ClientID:      record.ClientID,
		Scopes:        record.Scopes,
		TokenType:     string(record.Kind),
		ExpiresAt:     record.ExpiresAt,
	}, nil
}

// RefreshAccessToken rotates a refresh grant: the presented token is
// consumed atomically, its sibling access token is invalidated, and a fresh
// pair is minted with the same identity and scopes. A refresh token that was
// already consumed fails with ErrInvalidGrant, which under rotation is the
// replay signal.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, applicationID string) (*TokenPair, error) {
	if !strings.HasPrefix(refreshToken, RefreshTokenPrefix) {
		return nil, ErrInvalidGrant
	}

	opCtx, cancel := s.opCtx(ctx)
	record, err := s.store.ConsumeToken(opCtx, hashValue(refreshToken))
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			return nil, ErrAuthenticationFailed
		}
		s.audit.Record(security.Event{
			Type:     security.EventTokenExchangeFailure,
			Severity: security.SeverityMedium,
			Details:  map[string]any{"reason": "refresh_token_not_found_or_consumed"},
		})
		return nil, ErrInvalidGrant
	}

	if record.Kind != storage.TokenKindRefresh || record.ApplicationID != applicationID {
		s.audit.Record(security.Event{
			Type:     security.EventBreachAttempt,
			Severity: security.SeverityHigh,
			UserID:   record.UserID,
			ClientID: record.ClientID,
			Details:  map[string]any{"reason": "refresh_token_application_mismatch"},
		})
		return nil, ErrInvalidGrant
	}

	if record.Revoked || tokenExpired(record.ExpiresAt) {
		s.audit.Record(security.Event{
			Type:     security.EventTokenExchangeFailure,
			Severity: security.SeverityMedium,
			UserID:   record.UserID,
			ClientID: record.ClientID,
			Details:  map[string]any{"reason": "refresh_token_expired_or_revoked"},
		})
		return nil, ErrInvalidGrant
	}

	// Retire the old pair completely: the sibling access token dies with
	// the refresh token that minted it.
	s.removeTokenRecord(ctx, record.PairHash, record.UserID)
	opCtx, cancel = s.opCtx(ctx)
	if err := s.store.RemoveUserToken(opCtx, record.UserID, hashValue(refreshToken)); err != nil {
		s.logger.Warn("Failed to remove rotated refresh token from user set", "error", err)
	}
	cancel()

	pair, err := s.mintTokenPair(ctx, record.ApplicationID, record.ClientID, record.UserID, record.TeamID, record.Scopes)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.TokenRefreshed, nil)
	}
	s.audit.Record(security.Event{
		Type:     security.EventTokenRefreshed,
		Severity: security.SeverityLow,
		UserID:   record.UserID,
		ClientID: record.ClientID,
	})

	return pair, nil
}

// RevokeToken revokes a token by value, access or refresh, together with its
// sibling. Idempotent: revoking an unknown or already revoked token is a
// no-op, per RFC 7009.
//
// Revoked records are kept in the store for their remaining lifetime, marked
// rather than deleted, so a later presentation audits as a revoked token
// instead of an unknown one.
func (s *Server) RevokeToken(ctx context.Context, token, applicationID string) error {
	if !strings.HasPrefix(token, AccessTokenPrefix) && !strings.HasPrefix(token, RefreshTokenPrefix) {
		return nil
	}

	tokenHash := hashValue(token)

	opCtx, cancel := s.opCtx(ctx)
	record, err := s.store.GetToken(opCtx, tokenHash)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			return ErrAuthenticationFailed
		}
		return nil
	}

	// A client may only revoke its own tokens; anything else is silently
	// ignored, again per RFC 7009.
	if applicationID != "" && record.ApplicationID != applicationID {
		return nil
	}

	revokedAt := now()
	s.revokeTokenRecord(ctx, tokenHash, record, revokedAt)

	if record.PairHash != "" {
		opCtx, cancel := s.opCtx(ctx)
		sibling, err := s.store.GetToken(opCtx, record.PairHash)
		cancel()
		if err == nil {
			s.revokeTokenRecord(ctx, record.PairHash, sibling, revokedAt)
		}
	}

	if s.metrics != nil {
		instrumentation.RecordResult(ctx, s.metrics.TokenRevoked, nil)
	}
	s.audit.LogTokenRevoked(record.UserID, record.ClientID, string(record.Kind))

	return nil
}

// revokeTokenRecord marks a token record revoked and writes it back with its
// remaining lifetime, removing it from the user set so it no longer counts
// toward active tokens. Records already past expiry are deleted instead.
func (s *Server) revokeTokenRecord(ctx context.Context, tokenHash string, record *storage.Token, revokedAt time.Time) {
	if record.Revoked {
		return
	}

	remaining := record.ExpiresAt.Sub(revokedAt)
	if remaining <= 0 {
		s.removeTokenRecord(ctx, tokenHash, record.UserID)
		return
	}

	record.Revoked = true
	record.RevokedAt = revokedAt

	opCtx, cancel := s.opCtx(ctx)
	if err := s.store.SaveToken(opCtx, tokenHash, record, remaining); err != nil {
		s.logger.Warn("Failed to persist revoked token record", "error", err)
	}
	cancel()

	if record.UserID != "" {
		opCtx, cancel = s.opCtx(ctx)
		if err := s.store.RemoveUserToken(opCtx, record.UserID, tokenHash); err != nil {
			s.logger.Warn("Failed to remove revoked token from user set", "error", err)
		}
		cancel()
	}
}

// removeTokenRecord deletes a token record and its user-set membership.
// Best-effort on both.
func (s *Server) removeTokenRecord(ctx context.Context, tokenHash, userID string) {
	if tokenHash == "" {
		return
	}

	opCtx, cancel := s.opCtx(ctx)
	if err := s.store.DeleteToken(opCtx, tokenHash); err != nil {
		s.logger.Warn("Failed to delete token record", "error", err)
	}
	cancel()

	if userID != "" {
		opCtx, cancel = s.opCtx(ctx)
		if err := s.store.RemoveUserToken(opCtx, userID, tokenHash); err != nil {
			s.logger.Warn("Failed to remove token from user set", "error", err)
		}
		cancel()
	}
}

// InvalidateUserTokens revokes every cached token a user holds, across all
// applications. Returns the number of token records removed.
func (s *Server) InvalidateUserTokens(ctx context.Context, userID string) (int, error) {
	opCtx, cancel := s.opCtx(ctx)
	hashes, err := s.store.GetUserTokens(opCtx, userID)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list user tokens: %w", err)
	}

	removed := 0
	for _, hash := range hashes {
		opCtx, cancel = s.opCtx(ctx)
		err = s.store.DeleteToken(opCtx, hash)
		cancel()
		if err != nil {
			s.logger.Warn("Failed to delete token during bulk invalidation",
				"error", err)
			continue
		}
		removed++
	}

	opCtx, cancel = s.opCtx(ctx)
	if err := s.store.DeleteUserTokens(opCtx, userID); err != nil {
		s.logger.Warn("Failed to clear user token set", "error", err)
	}
	cancel()

	s.audit.Record(security.Event{
		Type:     security.EventAllTokensRevoked,
		Severity: security.SeverityMedium,
		UserID:   userID,
		Details:  map[string]any{"tokens_removed": removed},
	})

	return removed, nil
}

// redirectRegistered reports whether uri matches a registered redirect URI
// byte-for-byte.
func redirectRegistered(registered []string, uri string) bool {
	for _, r := range registered {
		if r == uri {
			return true
		}
	}
	return false
}
