package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/ledgerline/oauth-core/security"
	"github.com/ledgerline/oauth-core/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "oauth:"

	// hashLogLength is the number of characters to include when logging
	// storage hashes.
	hashLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection
	// verification.
	connectionVerifyTimeout = 5 * time.Second

	// userTokenSetTTL bounds the lifetime of per-user token membership sets.
	// The TTL is refreshed on every SADD, so the set outlives the longest
	// refresh token it can contain and still expires once the user goes
	// quiet.
	userTokenSetTTL = 31 * 24 * time.Hour
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for Valkey authentication.
	Password string

	// DB is the optional database number (default 0).
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
// It implements FlowStore, TokenStore, ApplicationCache, and RateLimitStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional record encryption at rest.
	// Access must be synchronized via encryptorMu.
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface check to ensure Store implements the full contract.
var _ storage.Store = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the record encryptor for encryption at rest. When set,
// token and authorization code payloads are encrypted before storing and
// decrypted when retrieved.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Record encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe).
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// sealPayload encrypts a serialized record when encryption at rest is
// enabled, and passes it through unchanged otherwise.
func (s *Store) sealPayload(data string) (string, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return data, nil
	}
	sealed, err := enc.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt record: %w", err)
	}
	return sealed, nil
}

// openPayload reverses sealPayload.
func (s *Store) openPayload(data string) (string, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return data, nil
	}
	opened, err := enc.Decrypt(data)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt record: %w", err)
	}
	return opened, nil
}

// ============================================================
// Key Helpers
// ============================================================

// codeKey returns the key for an authorization code: {prefix}code:{hash}
func (s *Store) codeKey(codeHash string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, codeHash)
}

// stateKey returns the key for transient state: {prefix}state:{key}
func (s *Store) stateKey(key string) string {
	return fmt.Sprintf("%sstate:%s", s.prefix, key)
}

// tokenKey returns the key for a token record: {prefix}token:{hash}
func (s *Store) tokenKey(tokenHash string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, tokenHash)
}

// userTokensKey returns the key for a user's token set: {prefix}user:tokens:{userID}
func (s *Store) userTokensKey(userID string) string {
	return fmt.Sprintf("%suser:tokens:%s", s.prefix, userID)
}

// appKey returns the key for a cached application: {prefix}app:{clientID}
func (s *Store) appKey(clientID string) string {
	return fmt.Sprintf("%sapp:%s", s.prefix, clientID)
}

// rateKey returns the key for a rate limit counter: {prefix}rate:{key}
func (s *Store) rateKey(key string) string {
	return fmt.Sprintf("%srate:%s", s.prefix, key)
}

// auditKey returns the key for the audit event list: {prefix}audit:events
func (s *Store) auditKey() string {
	return fmt.Sprintf("%saudit:events", s.prefix)
}

// ============================================================
// JSON Serialization Helpers
// ============================================================

// authorizationCodeJSON is the JSON representation of an authorization code
// record. Timestamps are stored as Unix seconds.
type authorizationCodeJSON struct {
	ApplicationID       string   `json:"application_id"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	TeamID              string   `json:"team_id,omitempty"`
	Scopes              []string `json:"scopes,omitempty"`
	RedirectURI         string   `json:"redirect_uri"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		ApplicationID:       code.ApplicationID,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		TeamID:              code.TeamID,
		Scopes:              code.Scopes,
		RedirectURI:         code.RedirectURI,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		ApplicationID:       j.ApplicationID,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		TeamID:              j.TeamID,
		Scopes:              j.Scopes,
		RedirectURI:         j.RedirectURI,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
	}
}

// tokenJSON is the JSON representation of a token record.
type tokenJSON struct {
	Kind          string   `json:"kind"`
	ApplicationID string   `json:"application_id"`
	ClientID      string   `json:"client_id"`
	UserID        string   `json:"user_id"`
	TeamID        string   `json:"team_id,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	IssuedAt      int64    `json:"issued_at"`
	ExpiresAt     int64    `json:"expires_at"`
	Revoked       bool     `json:"revoked,omitempty"`
	RevokedAt     int64    `json:"revoked_at,omitempty"`
	LastUsedAt    int64    `json:"last_used_at,omitempty"`
	PairHash      string   `json:"pair_hash,omitempty"`
}

func toTokenJSON(token *storage.Token) *tokenJSON {
	j := &tokenJSON{
		Kind:          string(token.Kind),
		ApplicationID: token.ApplicationID,
		ClientID:      token.ClientID,
		UserID:        token.UserID,
		TeamID:        token.TeamID,
		Scopes:        token.Scopes,
		IssuedAt:      token.IssuedAt.Unix(),
		ExpiresAt:     token.ExpiresAt.Unix(),
		Revoked:       token.Revoked,
		PairHash:      token.PairHash,
	}
	if !token.RevokedAt.IsZero() {
		j.RevokedAt = token.RevokedAt.Unix()
	}
	if !token.LastUsedAt.IsZero() {
		j.LastUsedAt = token.LastUsedAt.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON) *storage.Token {
	if j == nil {
		return nil
	}
	token := &storage.Token{
		Kind:          storage.TokenKind(j.Kind),
		ApplicationID: j.ApplicationID,
		ClientID:      j.ClientID,
		UserID:        j.UserID,
		TeamID:        j.TeamID,
		Scopes:        j.Scopes,
		IssuedAt:      time.Unix(j.IssuedAt, 0),
		ExpiresAt:     time.Unix(j.ExpiresAt, 0),
		Revoked:       j.Revoked,
		PairHash:      j.PairHash,
	}
	if j.RevokedAt > 0 {
		token.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	if j.LastUsedAt > 0 {
		token.LastUsedAt = time.Unix(j.LastUsedAt, 0)
	}
	return token
}

// applicationJSON is the JSON representation of a cached application.
type applicationJSON struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Slug             string   `json:"slug"`
	Description      string   `json:"description,omitempty"`
	LogoURL          string   `json:"logo_url,omitempty"`
	WebsiteURL       string   `json:"website_url,omitempty"`
	Screenshots      []string `json:"screenshots,omitempty"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scopes           []string `json:"scopes,omitempty"`
	Public           bool     `json:"public"`
	Active           bool     `json:"active"`
	Status           string   `json:"status"`
	TeamID           string   `json:"team_id"`
	CreatedBy        string   `json:"created_by"`
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

func toApplicationJSON(app *storage.Application) *applicationJSON {
	return &applicationJSON{
		ID:               app.ID,
		Name:             app.Name,
		Slug:             app.Slug,
		Description:      app.Description,
		LogoURL:          app.LogoURL,
		WebsiteURL:       app.WebsiteURL,
		Screenshots:      app.Screenshots,
		RedirectURIs:     app.RedirectURIs,
		Scopes:           app.Scopes,
		Public:           app.Public,
		Active:           app.Active,
		Status:           string(app.Status),
		TeamID:           app.TeamID,
		CreatedBy:        app.CreatedBy,
		ClientID:         app.ClientID,
		ClientSecretHash: app.ClientSecretHash,
		CreatedAt:        app.CreatedAt.Unix(),
		UpdatedAt:        app.UpdatedAt.Unix(),
	}
}

func fromApplicationJSON(j *applicationJSON) *storage.Application {
	if j == nil {
		return nil
	}
	return &storage.Application{
		ID:               j.ID,
		Name:             j.Name,
		Slug:             j.Slug,
		Description:      j.Description,
		LogoURL:          j.LogoURL,
		WebsiteURL:       j.WebsiteURL,
		Screenshots:      j.Screenshots,
		RedirectURIs:     j.RedirectURIs,
		Scopes:           j.Scopes,
		Public:           j.Public,
		Active:           j.Active,
		Status:           storage.ApplicationStatus(j.Status),
		TeamID:           j.TeamID,
		CreatedBy:        j.CreatedBy,
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
		UpdatedAt:        time.Unix(j.UpdatedAt, 0),
	}
}

// ============================================================
// Helper methods
// ============================================================

// marshalSealed serializes a record and applies encryption at rest.
func marshalSealed[J any](s *Store, j *J) (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.sealPayload(string(data))
}

// unmarshalSealed reverses marshalSealed.
func unmarshalSealed[J any](s *Store, data string) (*J, error) {
	opened, err := s.openPayload(data)
	if err != nil {
		return nil, err
	}
	var j J
	if err := json.Unmarshal([]byte(opened), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &j, nil
}

// unavailable wraps an infrastructure failure so callers can detect it with
// errors.Is(err, storage.ErrStoreUnavailable) and apply their
// fail-open/fail-closed policy.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrStoreUnavailable, op, err)
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// isNilError checks if the error indicates a nil/not-found result from
// Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
