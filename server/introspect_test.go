package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ledgerline/oauth-core/security"
)

func TestIntrospectToken(t *testing.T) {
	env := newTestServer(t, nil)
	app := env.seedApplication(t, false)

	verifier := security.GenerateCodeVerifier()
	code := issueCode(t, env, app, verifier)
	pair, err := env.server.ExchangeAuthorizationCode(context.Background(), ExchangeAuthorizationCodeInput{
		Code:          code,
		RedirectURI:   testRedirectURI,
		ApplicationID: app.ID,
		CodeVerifier:  verifier,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	resp, err := env.server.IntrospectToken(context.Background(), IntrospectionRequest{
		Token:        pair.AccessToken,
		ClientID:     app.ClientID,
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("IntrospectToken: %v", err)
	}
	if !resp.Active {
		t.Fatal("live token reported inactive")
	}
	if resp.Sub != "user-1" {
		t.Errorf("sub = %q, want user-1", resp.Sub)
	}
	if resp.Username != "user-1" {
		t.Errorf("username = %q, want user-1", resp.Username)
	}
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want read", resp.Scope)
	}
	if resp.Iss != "https://auth.test" {
		t.Errorf("iss = %q", resp.Iss)
	}
	if resp.Aud != app.ID {
		t.Errorf("aud = %q, want %q", resp.Aud, app.ID)
	}
	if resp.Exp <= resp.Iat {
		t.Errorf("exp %d not after iat %d", resp.Exp, resp.Iat)
	}
}

func TestIntrospectToken_RequiresAuthentication(t *testing.T) {
	env := newTestServer(t, nil)
	app := env.seedApplication(t, false)

	_, err := env.server.IntrospectToken(context.Background(), IntrospectionRequest{
		Token:        "oat_whatever",
		ClientID:     app.ClientID,
		ClientSecret: "wrong",
	})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestIntrospectToken_InactiveStates(t *testing.T) {
	env := newTestServer(t, nil)
	app := env.seedApplication(t, false)

	// Unknown and malformed tokens both introspect as inactive with no
	// further detail.
	for _, token := range []string{"oat_unknown", "not-a-token"} {
		resp, err := env.server.IntrospectToken(context.Background(), IntrospectionRequest{
			Token:        token,
			ClientID:     app.ClientID,
			ClientSecret: testClientSecret,
		})
		if err != nil {
			t.Fatalf("IntrospectToken(%q): %v", token, err)
		}
		if resp.Active {
			t.Errorf("token %q reported active", token)
		}
		if resp.Sub != "" || resp.Scope != "" {
			t.Errorf("inactive response for %q leaks fields: %+v", token, resp)
		}
	}
}

func TestIntrospectToken_Revoked(t *testing.T) {
	env := newTestServer(t, nil)
	app := env.seedApplication(t, false)

	verifier := security.GenerateCodeVerifier()
	code := issueCode(t, env, app, verifier)
	pair, err := env.server.ExchangeAuthorizationCode(context.Background(), ExchangeAuthorizationCodeInput{
		Code:          code,
		RedirectURI:   testRedirectURI,
		ApplicationID: app.ID,
		CodeVerifier:  verifier,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if err := env.server.RevokeToken(context.Background(), pair.AccessToken, app.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	resp, err := env.server.IntrospectToken(context.Background(), IntrospectionRequest{
		Token:        pair.AccessToken,
		ClientID:     app.ClientID,
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("IntrospectToken: %v", err)
	}
	if resp.Active {
		t.Error("revoked token reported active")
	}
}

func TestIntrospectToken_Expired(t *testing.T) {
	env := newTestServer(t, nil)
	app := env.seedApplication(t, false)

	verifier := security.GenerateCodeVerifier()
	code := issueCode(t, env, app, verifier)
	pair, err := env.server.ExchangeAuthorizationCode(context.Background(), ExchangeAuthorizationCodeInput{
		Code:          code,
		RedirectURI:   testRedirectURI,
		ApplicationID: app.ID,
		CodeVerifier:  verifier,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	setNow(t, func() time.Time {
		return time.Now().Add(env.server.Config().AccessTokenTTL + time.Minute)
	})

	resp, err := env.server.IntrospectToken(context.Background(), IntrospectionRequest{
		Token:        pair.AccessToken,
		ClientID:     app.ClientID,
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("IntrospectToken: %v", err)
	}
	if resp.Active {
		t.Error("expired token reported active")
	}
}
