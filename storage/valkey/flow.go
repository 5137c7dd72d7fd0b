package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/oauth-core/internal/util"
	"github.com/ledgerline/oauth-core/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode stores an authorization code record under its hash
// with a TTL matching the record's expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, codeHash string, code *storage.AuthorizationCode) error {
	if codeHash == "" {
		return fmt.Errorf("code hash cannot be empty")
	}
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	data, err := marshalSealed(s, toAuthorizationCodeJSON(code))
	if err != nil {
		return err
	}

	key := s.codeKey(codeHash)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(data).Ex(ttl).Build(),
	).Error(); err != nil {
		return unavailable("save authorization code", err)
	}

	s.logger.Debug("Saved authorization code",
		"hash_prefix", util.SafeTruncate(codeHash, hashLogLength),
		"client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically fetches and deletes an authorization
// code record via GETDEL. The fetch and the delete are a single server-side
// step, so under concurrent calls with the same hash exactly one caller
// observes the record.
//
// Not found, already consumed, and expired-and-evicted are all reported as
// ErrAuthorizationCodeNotFound; callers cannot distinguish them.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(codeHash)

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, unavailable("consume authorization code", err)
	}

	j, err := unmarshalSealed[authorizationCodeJSON](s, data)
	if err != nil {
		return nil, err
	}

	code := fromAuthorizationCodeJSON(j)

	// TTL eviction should make this unreachable, but guard against an
	// expired record that survived a clock jump.
	if time.Now().After(code.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	s.logger.Debug("Consumed authorization code",
		"hash_prefix", util.SafeTruncate(codeHash, hashLogLength))
	return code, nil
}

// SaveState stores an opaque transient value with a TTL.
func (s *Store) SaveState(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("state key cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("state TTL must be positive")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.stateKey(key)).Value(value).Ex(ttl).Build(),
	).Error(); err != nil {
		return unavailable("save state", err)
	}

	return nil
}

// ConsumeState atomically fetches and deletes a transient value via GETDEL.
func (s *Store) ConsumeState(ctx context.Context, key string) (string, error) {
	value, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.stateKey(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrStateNotFound
		}
		return "", unavailable("consume state", err)
	}

	return value, nil
}
