package oauth

import (
	"context"

	"github.com/ledgerline/oauth-core/instrumentation"
	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/server"
)

// Re-exported server types, so embedding applications that only touch the
// request path can import the root package alone.
type (
	Server          = server.Server
	Config          = server.Config
	Session         = server.Session
	TokenPair       = server.TokenPair
	OAuthError      = server.OAuthError
	ValidationError = server.ValidationError
)

// New constructs a Server. See server.New.
var New = server.New

// DefaultConfig returns the production-ready defaults. See
// server.DefaultConfig.
var DefaultConfig = server.DefaultConfig

// WireError maps a server error to its RFC 6749 wire form.
var WireError = server.WireError

// NewAuditLogger creates an audit logger whose overflow drops feed the
// instrumentation counters. Pass nil instrumentation to skip the wiring.
func NewAuditLogger(sink security.Sink, cfg security.AuditConfig, inst *instrumentation.Instrumentation) *security.AuditLogger {
	if inst != nil {
		dropped := inst.Metrics().AuditEventsDropped
		prev := cfg.OnDrop
		cfg.OnDrop = func(n int) {
			dropped.Add(context.Background(), int64(n))
			if prev != nil {
				prev(n)
			}
		}
	}
	return security.NewAuditLogger(sink, cfg)
}

// Sentinel errors surfaced across the request path.
var (
	ErrInvalidGrant         = server.ErrInvalidGrant
	ErrExpiredGrant         = server.ErrExpiredGrant
	ErrRedirectMismatch     = server.ErrRedirectMismatch
	ErrPKCEMismatch         = server.ErrPKCEMismatch
	ErrInsufficientScope    = server.ErrInsufficientScope
	ErrAuthenticationFailed = server.ErrAuthenticationFailed
)
