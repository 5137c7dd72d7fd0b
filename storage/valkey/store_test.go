package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set and no local server is
// reachable. Each test gets a unique prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauthtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey.
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for missing address")
	}
}

func testAuthCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		ApplicationID: "app-1",
		ClientID:      "client-1",
		UserID:        "user-1",
		Scopes:        []string{"read", "write"},
		RedirectURI:   "https://example.com/callback",
		CodeChallenge: "challenge",
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, "code-hash", testAuthCode()); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	code, err := s.ConsumeAuthorizationCode(ctx, "code-hash")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode failed: %v", err)
	}
	if code.UserID != "user-1" || code.RedirectURI != "https://example.com/callback" {
		t.Errorf("unexpected code record: %+v", code)
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, "code-hash"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("expected ErrAuthorizationCodeNotFound on reuse, got %v", err)
	}
}

// TestConsumeAuthorizationCodeConcurrent verifies the GETDEL consume-once
// guarantee against a real server.
func TestConsumeAuthorizationCodeConcurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, "race-hash", testAuthCode()); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	const goroutines = 20
	var successes atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.ConsumeAuthorizationCode(ctx, "race-hash"); err == nil {
				successes.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("expected exactly 1 successful consume, got %d", got)
	}
}

func TestConsumeState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveState(ctx, "csrf-1", "payload", time.Minute); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	value, err := s.ConsumeState(ctx, "csrf-1")
	if err != nil {
		t.Fatalf("ConsumeState failed: %v", err)
	}
	if value != "payload" {
		t.Errorf("expected payload, got %q", value)
	}

	if _, err := s.ConsumeState(ctx, "csrf-1"); !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound on reuse, got %v", err)
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := &storage.Token{
		Kind:      storage.TokenKindAccess,
		ClientID:  "client-1",
		UserID:    "user-1",
		Scopes:    []string{"read"},
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		PairHash:  "sibling-hash",
	}

	if err := s.SaveToken(ctx, "tok-hash", token, time.Hour); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	got, err := s.GetToken(ctx, "tok-hash")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if got.UserID != "user-1" || got.PairHash != "sibling-hash" {
		t.Errorf("unexpected token: %+v", got)
	}

	usedAt := time.Now().Truncate(time.Second)
	if err := s.TouchToken(ctx, "tok-hash", usedAt); err != nil {
		t.Fatalf("TouchToken failed: %v", err)
	}
	touched, err := s.GetToken(ctx, "tok-hash")
	if err != nil {
		t.Fatalf("GetToken after touch failed: %v", err)
	}
	if !touched.LastUsedAt.Equal(usedAt) {
		t.Errorf("expected LastUsedAt %v, got %v", usedAt, touched.LastUsedAt)
	}

	if err := s.DeleteToken(ctx, "tok-hash"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if _, err := s.GetToken(ctx, "tok-hash"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound after delete, got %v", err)
	}
}

func TestConsumeToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := &storage.Token{Kind: storage.TokenKindRefresh, UserID: "user-1"}
	if err := s.SaveToken(ctx, "rt-hash", token, time.Hour); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	got, err := s.ConsumeToken(ctx, "rt-hash")
	if err != nil {
		t.Fatalf("ConsumeToken failed: %v", err)
	}
	if got.Kind != storage.TokenKindRefresh {
		t.Errorf("unexpected token: %+v", got)
	}

	if _, err := s.ConsumeToken(ctx, "rt-hash"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound on second consume, got %v", err)
	}
}

func TestUserTokenSet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, hash := range []string{"t1", "t2"} {
		if err := s.AddUserToken(ctx, "user-1", hash); err != nil {
			t.Fatalf("AddUserToken(%s) failed: %v", hash, err)
		}
	}

	hashes, err := s.GetUserTokens(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserTokens failed: %v", err)
	}
	if len(hashes) != 2 {
		t.Errorf("expected 2 hashes, got %d", len(hashes))
	}

	if err := s.RemoveUserToken(ctx, "user-1", "t1"); err != nil {
		t.Fatalf("RemoveUserToken failed: %v", err)
	}
	hashes, _ = s.GetUserTokens(ctx, "user-1")
	if len(hashes) != 1 || hashes[0] != "t2" {
		t.Errorf("expected [t2], got %v", hashes)
	}

	if err := s.DeleteUserTokens(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteUserTokens failed: %v", err)
	}
	hashes, _ = s.GetUserTokens(ctx, "user-1")
	if len(hashes) != 0 {
		t.Errorf("expected empty set, got %v", hashes)
	}
}

func TestApplicationCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	app := &storage.Application{
		ID:           "app-1",
		Name:         "Test App",
		Slug:         "test-app",
		RedirectURIs: []string{"https://example.com/callback"},
		Active:       true,
		Status:       storage.StatusApproved,
		ClientID:     "client-1",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.CacheApplication(ctx, app, time.Hour); err != nil {
		t.Fatalf("CacheApplication failed: %v", err)
	}

	got, err := s.GetCachedApplication(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetCachedApplication failed: %v", err)
	}
	if got.Slug != "test-app" || !got.Active {
		t.Errorf("unexpected application: %+v", got)
	}

	if err := s.InvalidateApplication(ctx, "client-1"); err != nil {
		t.Fatalf("InvalidateApplication failed: %v", err)
	}
	if _, err := s.GetCachedApplication(ctx, "client-1"); !errors.Is(err, storage.ErrApplicationNotFound) {
		t.Errorf("expected ErrApplicationNotFound after invalidation, got %v", err)
	}
}

func TestIncrementWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, err := s.IncrementWindow(ctx, "ip:192.0.2.1:42", time.Minute)
		if err != nil {
			t.Fatalf("IncrementWindow failed: %v", err)
		}
		if count != want {
			t.Errorf("expected count %d, got %d", want, count)
		}
	}
}

func TestEncryptionAtRest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey failed: %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	s.SetEncryptor(enc)

	token := &storage.Token{Kind: storage.TokenKindAccess, UserID: "user-1"}
	if err := s.SaveToken(ctx, "enc-hash", token, time.Hour); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	// Raw payload must not be readable JSON.
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey("enc-hash")).Build()).ToString()
	if err != nil {
		t.Fatalf("raw GET failed: %v", err)
	}
	if len(raw) > 0 && raw[0] == '{' {
		t.Error("stored payload looks like plaintext JSON despite encryption")
	}

	got, err := s.GetToken(ctx, "enc-hash")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("unexpected token after decrypt: %+v", got)
	}
}

func TestAuditSink(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	events := []*security.Event{
		{ID: "e1", Type: security.EventAuthorizationSuccess, Severity: security.SeverityMedium, UserID: "user-1", Timestamp: time.Now()},
		{ID: "e2", Type: security.EventPKCEViolation, Severity: security.SeverityHigh, ClientID: "client-1", Timestamp: time.Now()},
	}

	if err := s.WriteEvents(ctx, events); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	got, err := s.RecentAuditEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAuditEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	// LPUSH stores newest first: e2 was pushed last.
	if got[0].ID != "e2" {
		t.Errorf("expected newest event first, got %s", got[0].ID)
	}
}
