package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/server"
)

type contextKey string

const sessionContextKey contextKey = "oauth.session"

// Middleware carries the cross-cutting request path: request IDs, security
// headers, throttling, bearer resolution, and scope enforcement. Handlers
// compose per route:
//
//	mux.Handle("/v1/ledgers", mw.Secure(mw.Throttle(mw.Authenticate(
//		mw.RequireScopes("read")(handler)))))
type Middleware struct {
	srv     *server.Server
	limiter *security.RateLimiter
	logger  *slog.Logger

	// TrustProxy and TrustedProxyCount control X-Forwarded-For handling
	// when resolving client IPs. Leave TrustProxy false unless a proxy you
	// control sits in front.
	TrustProxy        bool
	TrustedProxyCount int
}

// NewMiddleware creates the middleware stack. The local token-bucket
// limiter absorbs bursts in-process before the shared window counter is
// consulted; pass requestsPerSecond <= 0 to disable it.
func NewMiddleware(srv *server.Server, requestsPerSecond, burst int) *Middleware {
	cfg := srv.Config()
	m := &Middleware{
		srv:    srv,
		logger: cfg.Logger,
	}
	if requestsPerSecond > 0 {
		m.limiter = security.NewRateLimiter(requestsPerSecond, burst, cfg.Logger)
	}
	return m
}

// Close releases the local limiter's background resources.
func (m *Middleware) Close() {
	if m.limiter != nil {
		m.limiter.Stop()
	}
}

// Secure stamps a request ID into the context and response and sets the
// standard security headers.
func (m *Middleware) Secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := security.EnsureRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		security.SetSecurityHeaders(w, m.srv.Config().Issuer)

		next.ServeHTTP(w, r.WithContext(security.WithRequestID(r.Context(), requestID)))
	})
}

// Throttle applies the per-IP limits: the in-process token bucket first,
// then the shared sliding window. A denial answers 429 with a Retry-After
// hint of the window length.
func (m *Middleware) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := security.GetClientIP(r, m.TrustProxy, m.TrustedProxyCount)

		if m.limiter != nil && !m.limiter.Allow(ip) {
			m.deny(w)
			return
		}

		allowed, err := m.srv.CheckRateLimit(r.Context(), "ip:"+ip)
		if err != nil {
			m.logger.Warn("Rate limit check errored", "error", err)
		}
		if !allowed {
			m.deny(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) deny(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	writeWireError(w, server.NewOAuthError(
		server.ErrorCodeRateLimitExceeded,
		"too many requests",
		http.StatusTooManyRequests,
	))
}

// Authenticate resolves the bearer token into a Session and stores it in
// the request context. Requests without a valid token are answered with
// invalid_client before the handler runs.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerFromRequest(r)
		if !ok {
			writeWireError(w, server.WireError(ErrAuthenticationFailed))
			return
		}

		session, err := m.srv.ValidateAccessToken(r.Context(), token)
		if err != nil {
			writeWireError(w, server.WireError(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

// RequireScopes guards a route behind one or more scopes. It assumes
// Authenticate ran earlier in the chain; a missing session is treated as an
// authentication failure, a present session without the scopes answers 403.
func (m *Middleware) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				writeWireError(w, server.WireError(ErrAuthenticationFailed))
				return
			}

			for _, scope := range scopes {
				if !session.HasScope(scope) {
					m.srv.RecordSuspiciousPattern(session.UserID, session.ClientID,
						"insufficient_scope", map[string]any{
							"required": scopes,
							"granted":  session.Scopes,
						})
					writeWireError(w, server.WireError(ErrInsufficientScope))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerFromRequest extracts the bearer token from the Authorization
// header. The scheme comparison is case-insensitive per RFC 6750.
func BearerFromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// SessionFromContext returns the session Authenticate stored, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*Session)
	return session, ok
}

func withSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// writeWireError renders an *OAuthError as the RFC 6749 JSON body.
func writeWireError(w http.ResponseWriter, wire *server.OAuthError) {
	w.Header().Set("Content-Type", "application/json")
	if wire.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="oauth"`)
	}
	w.WriteHeader(wire.Status)
	_ = json.NewEncoder(w).Encode(wire)
}
