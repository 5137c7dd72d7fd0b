// Package server implements the authorization server core: the application
// registry, the authorization code and token flows, sliding-window rate
// limiting, and the error taxonomy the middleware maps to wire responses.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/ledgerline/oauth-core/instrumentation"
	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/storage"
)

// Opaque credential prefixes. The prefix is checked before any store round
// trip, so malformed bearer strings are rejected without network I/O.
const (
	AccessTokenPrefix       = "oat_"
	RefreshTokenPrefix      = "ort_"
	AuthorizationCodePrefix = "oac_"
)

// Server orchestrates the authorization server core. It owns no HTTP
// surface; the embedding application routes requests into its operations.
type Server struct {
	cfg    Config
	store  storage.Store
	repo   storage.Repository
	pkce   *security.PKCEValidator
	audit  *security.AuditLogger
	logger *slog.Logger

	metrics *instrumentation.Metrics
}

// New creates a Server. The audit logger is required: every flow emits
// events through it. Pass nil instrumentation to skip metrics.
func New(store storage.Store, repo storage.Repository, audit *security.AuditLogger, inst *instrumentation.Instrumentation, cfg Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit logger is required")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		store: store,
		repo:  repo,
		pkce: &security.PKCEValidator{
			RequireForPublicClients: cfg.Security.RequirePKCEForPublicClients,
			StrictS256:              cfg.Security.StrictS256,
		},
		audit:  audit,
		logger: cfg.Logger,
	}

	if inst != nil {
		s.metrics = inst.Metrics()
	}

	return s, nil
}

// Config returns a copy of the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Audit returns the audit logger, for components that share it.
func (s *Server) Audit() *security.AuditLogger {
	return s.audit
}

// opCtx derives a context bounding a single store round trip.
func (s *Server) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// newOpaqueValue generates a prefixed opaque credential with at least 256
// bits of entropy.
func newOpaqueValue(prefix string) string {
	return prefix + oauth2.GenerateVerifier()
}

// hashValue returns the hex SHA-256 of a credential value. Store keys are
// always hashes; the raw value never reaches the store.
func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// getApplication resolves an application by client id, cache first with a
// repository fallback. Hits refresh nothing; misses populate the cache for
// ApplicationCacheTTL.
func (s *Server) getApplication(ctx context.Context, clientID string) (*storage.Application, error) {
	opCtx, cancel := s.opCtx(ctx)
	app, err := s.store.GetCachedApplication(opCtx, clientID)
	cancel()
	if err == nil {
		return app, nil
	}

	app, err = s.repo.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel = s.opCtx(ctx)
	defer cancel()
	if cacheErr := s.store.CacheApplication(opCtx, app, s.cfg.ApplicationCacheTTL); cacheErr != nil {
		s.logger.Warn("Failed to cache application",
			"client_id", clientID,
			"error", cacheErr)
	}

	return app, nil
}

// now is a seam for expiry tests.
var now = time.Now

// tokenExpired checks access and refresh token expiry with the clock-skew
// grace period. Authorization codes stay on the exact check; their lifetime
// is short enough that skew tolerance would only widen the replay window.
func tokenExpired(expiresAt time.Time) bool {
	return security.IsTokenExpiredAt(now(), expiresAt, security.DefaultClockSkewGracePeriod)
}
