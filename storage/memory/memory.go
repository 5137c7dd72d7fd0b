// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/oauth-core/storage"
)

// entry wraps a stored value with its expiry deadline. A zero deadline means
// the entry never expires.
type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory implementation of all storage interfaces.
// It implements FlowStore, TokenStore, ApplicationCache, and RateLimitStore.
type Store struct {
	mu sync.Mutex

	authCodes map[string]entry[*storage.AuthorizationCode]
	states    map[string]entry[string]

	tokens     map[string]entry[*storage.Token]
	userTokens map[string]map[string]struct{} // user ID -> token hash set

	apps map[string]entry[*storage.Application] // client ID -> cached application

	counters map[string]entry[int64]

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check to ensure Store implements the full contract.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		authCodes:       make(map[string]entry[*storage.AuthorizationCode]),
		states:          make(map[string]entry[string]),
		tokens:          make(map[string]entry[*storage.Token]),
		userTokens:      make(map[string]map[string]struct{}),
		apps:            make(map[string]entry[*storage.Application]),
		counters:        make(map[string]entry[int64]),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop gracefully stops the cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode stores an authorization code record under its hash.
func (s *Store) SaveAuthorizationCode(ctx context.Context, codeHash string, code *storage.AuthorizationCode) error {
	if codeHash == "" {
		return fmt.Errorf("code hash cannot be empty")
	}
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *code
	s.authCodes[codeHash] = entry[*storage.AuthorizationCode]{value: &stored, expiresAt: code.ExpiresAt}
	return nil
}

// ConsumeAuthorizationCode atomically fetches and deletes an authorization
// code record. Only one concurrent caller for the same hash can succeed; the
// rest receive ErrAuthorizationCodeNotFound.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.authCodes[codeHash]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	delete(s.authCodes, codeHash)

	// An expired code that the cleanup loop has not reached yet is
	// indistinguishable from an absent one.
	if e.expired(time.Now()) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	code := *e.value
	return &code, nil
}

// SaveState stores an opaque transient value with a TTL.
func (s *Store) SaveState(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("state key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.states[key] = entry[string]{value: value, expiresAt: expiresAt}
	return nil
}

// ConsumeState atomically fetches and deletes a transient value.
func (s *Store) ConsumeState(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[key]
	if !ok {
		return "", storage.ErrStateNotFound
	}
	delete(s.states, key)

	if e.expired(time.Now()) {
		return "", storage.ErrStateNotFound
	}

	return e.value, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken stores a token record under its hash with the given TTL.
func (s *Store) SaveToken(ctx context.Context, tokenHash string, token *storage.Token, ttl time.Duration) error {
	if tokenHash == "" {
		return fmt.Errorf("token hash cannot be empty")
	}
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := *token
	s.tokens[tokenHash] = entry[*storage.Token]{value: &stored, expiresAt: expiresAt}
	return nil
}

// GetToken retrieves a token record by hash.
func (s *Store) GetToken(ctx context.Context, tokenHash string) (*storage.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[tokenHash]
	if !ok || e.expired(time.Now()) {
		return nil, storage.ErrTokenNotFound
	}

	token := *e.value
	return &token, nil
}

// ConsumeToken atomically fetches and deletes a token record.
func (s *Store) ConsumeToken(ctx context.Context, tokenHash string) (*storage.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	delete(s.tokens, tokenHash)

	if e.expired(time.Now()) {
		return nil, storage.ErrTokenNotFound
	}

	token := *e.value
	return &token, nil
}

// DeleteToken removes a token record. Deleting an absent token is not an
// error.
func (s *Store) DeleteToken(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenHash)
	return nil
}

// TouchToken updates the record's last-used timestamp without changing its
// remaining TTL. Touching an absent token is not an error.
func (s *Store) TouchToken(ctx context.Context, tokenHash string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[tokenHash]
	if !ok || e.expired(time.Now()) {
		return nil
	}

	e.value.LastUsedAt = usedAt
	return nil
}

// AddUserToken registers a token hash in the user's token set.
func (s *Store) AddUserToken(ctx context.Context, userID, tokenHash string) error {
	if userID == "" || tokenHash == "" {
		return fmt.Errorf("userID and token hash cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.userTokens[userID]
	if !ok {
		set = make(map[string]struct{})
		s.userTokens[userID] = set
	}
	set[tokenHash] = struct{}{}
	return nil
}

// GetUserTokens returns the token hashes registered for a user, sorted for
// deterministic iteration. An unknown user yields an empty slice.
func (s *Store) GetUserTokens(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.userTokens[userID]
	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// RemoveUserToken removes a token hash from the user's token set.
func (s *Store) RemoveUserToken(ctx context.Context, userID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.userTokens[userID]
	if !ok {
		return nil
	}
	delete(set, tokenHash)
	if len(set) == 0 {
		delete(s.userTokens, userID)
	}
	return nil
}

// DeleteUserTokens removes the user's entire token set.
func (s *Store) DeleteUserTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.userTokens, userID)
	return nil
}

// ============================================================
// ApplicationCache Implementation
// ============================================================

// CacheApplication caches an application record keyed by client ID.
func (s *Store) CacheApplication(ctx context.Context, app *storage.Application, ttl time.Duration) error {
	if app == nil || app.ClientID == "" {
		return fmt.Errorf("invalid application")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := *app
	s.apps[app.ClientID] = entry[*storage.Application]{value: &stored, expiresAt: expiresAt}
	return nil
}

// GetCachedApplication retrieves a cached application by client ID.
func (s *Store) GetCachedApplication(ctx context.Context, clientID string) (*storage.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.apps[clientID]
	if !ok || e.expired(time.Now()) {
		return nil, storage.ErrApplicationNotFound
	}

	app := *e.value
	return &app, nil
}

// InvalidateApplication drops a cached application. Invalidating an absent
// entry is not an error.
func (s *Store) InvalidateApplication(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.apps, clientID)
	return nil
}

// ============================================================
// RateLimitStore Implementation
// ============================================================

// IncrementWindow atomically increments the counter at key and returns the
// post-increment count. The TTL is set when the counter is created so the
// window expires relative to its first event.
func (s *Store) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("rate limit key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.counters[key]
	if !ok || e.expired(now) {
		e = entry[int64]{value: 0, expiresAt: now.Add(window)}
	}
	e.value++
	s.counters[key] = e
	return e.value, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for hash, e := range s.authCodes {
		if e.expired(now) {
			delete(s.authCodes, hash)
			cleaned++
		}
	}

	for key, e := range s.states {
		if e.expired(now) {
			delete(s.states, key)
			cleaned++
		}
	}

	for hash, e := range s.tokens {
		if e.expired(now) {
			delete(s.tokens, hash)
			cleaned++
		}
	}

	// Drop user set members whose token records are gone. Orphaned members
	// accumulate when tokens expire by TTL rather than explicit revocation.
	for userID, set := range s.userTokens {
		for hash := range set {
			if _, ok := s.tokens[hash]; !ok {
				delete(set, hash)
				cleaned++
			}
		}
		if len(set) == 0 {
			delete(s.userTokens, userID)
		}
	}

	for clientID, e := range s.apps {
		if e.expired(now) {
			delete(s.apps, clientID)
			cleaned++
		}
	}

	for key, e := range s.counters {
		if e.expired(now) {
			delete(s.counters, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}
