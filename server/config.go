package server

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ledgerline/oauth-core/internal/util"
)

// Default lifetimes and limits.
const (
	// DefaultAccessTokenTTL is the access token lifetime.
	DefaultAccessTokenTTL = time.Hour

	// DefaultRefreshTokenTTL is the refresh token lifetime.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultAuthorizationCodeTTL is the fixed authorization code lifetime.
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultStateTTL is the lifetime of transient CSRF state.
	DefaultStateTTL = 10 * time.Minute

	// DefaultApplicationCacheTTL is how long application metadata stays
	// cached before the next validation falls back to the repository.
	DefaultApplicationCacheTTL = time.Hour

	// DefaultOpTimeout bounds a single store round trip.
	DefaultOpTimeout = 2 * time.Second

	// DefaultBcryptCost is the bcrypt cost for client secret hashes.
	DefaultBcryptCost = 12

	// DefaultRateLimitWindow and DefaultRateLimit describe the sliding
	// window applied per identifier.
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimit       = 60
)

// RateLimitConfig configures the sliding-window rate limiter. The zero value
// leaves limiting on with the default window and limit; it must be switched
// off explicitly.
type RateLimitConfig struct {
	// Disabled turns rate limiting off.
	Disabled bool

	// Window is the sliding window length.
	Window time.Duration

	// Limit is the maximum number of requests per identifier per window.
	Limit int64
}

// SecurityConfig groups the security-sensitive knobs.
type SecurityConfig struct {
	// BcryptCost is the work factor for client secret hashes (min 12).
	BcryptCost int

	// EncryptionKey enables AES-256-GCM encryption at rest for cached
	// records when set (must be 32 bytes). Nil disables encryption.
	EncryptionKey []byte

	// RequirePKCEForPublicClients makes PKCE mandatory for public clients.
	RequirePKCEForPublicClients bool

	// StrictS256 rejects the "plain" challenge method.
	StrictS256 bool

	// Production suppresses the human-readable audit mirror.
	Production bool
}

// Config configures a Server. Zero values take the defaults above; see
// DefaultConfig.
type Config struct {
	// Issuer is the issuer identifier included in introspection responses,
	// e.g. "https://auth.example.com".
	Issuer string

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AuthorizationCodeTTL time.Duration
	StateTTL             time.Duration
	ApplicationCacheTTL  time.Duration

	// OpTimeout bounds each store round trip.
	OpTimeout time.Duration

	RateLimit RateLimitConfig
	Security  SecurityConfig

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:       DefaultAccessTokenTTL,
		RefreshTokenTTL:      DefaultRefreshTokenTTL,
		AuthorizationCodeTTL: DefaultAuthorizationCodeTTL,
		StateTTL:             DefaultStateTTL,
		ApplicationCacheTTL:  DefaultApplicationCacheTTL,
		OpTimeout:            DefaultOpTimeout,
		RateLimit: RateLimitConfig{
			Window: DefaultRateLimitWindow,
			Limit:  DefaultRateLimit,
		},
		Security: SecurityConfig{
			BcryptCost:                  DefaultBcryptCost,
			RequirePKCEForPublicClients: true,
			StrictS256:                  true,
		},
	}
}

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.AuthorizationCodeTTL <= 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.ApplicationCacheTTL <= 0 {
		c.ApplicationCacheTTL = DefaultApplicationCacheTTL
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = DefaultRateLimit
	}
	if c.Security.BcryptCost < DefaultBcryptCost {
		c.Security.BcryptCost = DefaultBcryptCost
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	// Issuer comparisons elsewhere are byte-exact, so keep one canonical
	// form here.
	c.Issuer = util.NormalizeURL(c.Issuer)
}

// Validate reports configuration errors that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost %d exceeds maximum %d", c.Security.BcryptCost, bcrypt.MaxCost)
	}
	if len(c.Security.EncryptionKey) != 0 && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(c.Security.EncryptionKey))
	}
	if c.AuthorizationCodeTTL > c.AccessTokenTTL {
		return fmt.Errorf("authorization code TTL %v exceeds access token TTL %v", c.AuthorizationCodeTTL, c.AccessTokenTTL)
	}
	return nil
}
