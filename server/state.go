package server

import (
	"context"
	"errors"

	"github.com/ledgerline/oauth-core/storage"
)

// SaveFlowState stores opaque per-flow state (the OAuth state parameter and
// whatever the embedding application binds to it) for StateTTL. The key is
// chosen by the caller, typically the state value itself.
func (s *Server) SaveFlowState(ctx context.Context, key, value string) error {
	if key == "" {
		return NewValidationError("state", "state key is required")
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.store.SaveState(opCtx, hashValue(key), value, s.cfg.StateTTL)
}

// ConsumeFlowState fetches and deletes flow state in one atomic step. A key
// that is absent, already consumed, or expired fails with ErrInvalidGrant
// and records a CSRF violation: a state value arriving twice, or one the
// server never issued, is the CSRF signal this mechanism exists for.
func (s *Server) ConsumeFlowState(ctx context.Context, key, clientID, ipAddress string) (string, error) {
	if key == "" {
		return "", ErrInvalidGrant
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	value, err := s.store.ConsumeState(opCtx, hashValue(key))
	if err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			return "", ErrAuthenticationFailed
		}
		s.audit.LogCSRFViolation(clientID, ipAddress)
		return "", ErrInvalidGrant
	}
	return value, nil
}
