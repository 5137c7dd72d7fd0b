package server

import (
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.AccessTokenTTL != DefaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %v", cfg.RefreshTokenTTL)
	}
	if cfg.AuthorizationCodeTTL != DefaultAuthorizationCodeTTL {
		t.Errorf("AuthorizationCodeTTL = %v", cfg.AuthorizationCodeTTL)
	}
	if cfg.RateLimit.Window != DefaultRateLimitWindow || cfg.RateLimit.Limit != DefaultRateLimit {
		t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
	}
	// A zero-value config must not silently switch off rate limiting.
	if cfg.RateLimit.Disabled {
		t.Error("rate limiting disabled by default")
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestConfigApplyDefaults_BcryptFloor(t *testing.T) {
	cfg := Config{Security: SecurityConfig{BcryptCost: 4}}
	cfg.applyDefaults()
	if cfg.Security.BcryptCost != DefaultBcryptCost {
		t.Errorf("BcryptCost = %d, want floor %d", cfg.Security.BcryptCost, DefaultBcryptCost)
	}

	cfg = Config{Security: SecurityConfig{BcryptCost: 14}}
	cfg.applyDefaults()
	if cfg.Security.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, explicit value above floor was overridden", cfg.Security.BcryptCost)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", nil, false},
		{"bcrypt cost too high", func(c *Config) { c.Security.BcryptCost = 40 }, true},
		{"short encryption key", func(c *Config) { c.Security.EncryptionKey = []byte("short") }, true},
		{"valid encryption key", func(c *Config) { c.Security.EncryptionKey = make([]byte, 32) }, false},
		{"code outlives access token", func(c *Config) {
			c.AuthorizationCodeTTL = 2 * time.Hour
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
