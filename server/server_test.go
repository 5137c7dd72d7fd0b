package server

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/storage"
	"github.com/ledgerline/oauth-core/storage/memory"
)

const (
	testClientSecret = "verifier-grade-secret-value-for-tests-0123456789"
	testRedirectURI  = "https://app.example.com/callback"
)

// collectingSink is an in-memory audit sink for tests.
type collectingSink struct {
	mu     sync.Mutex
	events []*security.Event
}

func (c *collectingSink) WriteEvents(_ context.Context, events []*security.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *collectingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collectingSink) hasDetail(eventType security.EventType, key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Type == eventType && ev.Details[key] == value {
			return true
		}
	}
	return false
}

type testEnv struct {
	server *Server
	store  *memory.Store
	repo   *memory.Repository
	sink   *collectingSink
}

func newTestServer(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	repo := memory.NewRepository()
	sink := &collectingSink{}
	audit := security.NewAuditLogger(sink, security.AuditConfig{
		Logger:     slog.New(slog.DiscardHandler),
		Production: true,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = audit.Close(ctx)
	})

	cfg := DefaultConfig()
	cfg.Issuer = "https://auth.test"
	cfg.Logger = slog.New(slog.DiscardHandler)
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(store, repo, audit, nil, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	return &testEnv{server: srv, store: store, repo: repo, sink: sink}
}

// seedApplication registers an approved application directly in the
// repository, sidestepping the pending-review state CreateApplication
// leaves new records in.
func (e *testEnv) seedApplication(t *testing.T, public bool) *storage.Application {
	t.Helper()

	var secretHash string
	if !public {
		hash, err := bcrypt.GenerateFromPassword([]byte(testClientSecret), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt: %v", err)
		}
		secretHash = string(hash)
	}

	created := time.Now()
	app := &storage.Application{
		ID:               "app-" + randomSuffix(t),
		Name:             "Test App",
		Slug:             "test-app-" + randomSuffix(t),
		RedirectURIs:     []string{testRedirectURI},
		Scopes:           []string{"read", "write"},
		Public:           public,
		Active:           true,
		Status:           storage.StatusApproved,
		TeamID:           "team-1",
		ClientID:         "client_" + randomSuffix(t),
		ClientSecretHash: secretHash,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	if err := e.repo.CreateApplication(context.Background(), app); err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return app
}

var suffixCounter int
var suffixMu sync.Mutex

func randomSuffix(t *testing.T) string {
	t.Helper()
	suffixMu.Lock()
	defer suffixMu.Unlock()
	suffixCounter++
	return time.Now().Format("150405.000000") + "-" + string(rune('a'+suffixCounter%26))
}

// setNow pins the server clock for the duration of a test.
func setNow(t *testing.T, fn func() time.Time) {
	t.Helper()
	prev := now
	now = fn
	t.Cleanup(func() { now = prev })
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := memory.New()
	defer store.Stop()
	repo := memory.NewRepository()
	audit := security.NewAuditLogger(&collectingSink{}, security.AuditConfig{
		Logger:     slog.New(slog.DiscardHandler),
		Production: true,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = audit.Close(ctx)
	}()

	if _, err := New(nil, repo, audit, nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(store, nil, audit, nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil repository")
	}
	if _, err := New(store, repo, nil, nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil audit logger")
	}
	if _, err := New(store, repo, audit, nil, DefaultConfig()); err != nil {
		t.Errorf("New() with all dependencies failed: %v", err)
	}
}

func TestNewOpaqueValue(t *testing.T) {
	a := newOpaqueValue(AccessTokenPrefix)
	b := newOpaqueValue(AccessTokenPrefix)
	if a == b {
		t.Error("expected distinct opaque values")
	}
	if len(a) < len(AccessTokenPrefix)+43 {
		t.Errorf("opaque value too short: %d chars", len(a))
	}
}

func TestHashValue_Deterministic(t *testing.T) {
	if hashValue("oat_x") != hashValue("oat_x") {
		t.Error("expected stable hash")
	}
	if hashValue("oat_x") == hashValue("oat_y") {
		t.Error("expected distinct hashes for distinct values")
	}
	if got := len(hashValue("anything")); got != 64 {
		t.Errorf("expected 64 hex chars, got %d", got)
	}
}
