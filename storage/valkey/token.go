package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/oauth-core/internal/util"
	"github.com/ledgerline/oauth-core/storage"
)

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
	if ttl <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	data, err := marshalSealed(s, toTokenJSON(token))
	if err != nil {
		return err
	}

	key := s.tokenKey(tokenHash)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(data).Ex(ttl).Build(),
	).Error(); err != nil {
		return unavailable("save token", err)
	}

	s.logger.Debug("Saved token",
		"hash_prefix", util.SafeTruncate(tokenHash, hashLogLength),
		"kind", token.Kind)
	return nil
}

// GetToken retrieves a token record by hash.
func (s *Store) GetToken(ctx context.Context, tokenHash string) (*storage.Token, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(tokenHash)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("get token", err)
	}

	j, err := unmarshalSealed[tokenJSON](s, data)
	if err != nil {
		return nil, err
	}

	return fromTokenJSON(j), nil
}

// ConsumeToken atomically fetches and deletes a token record via GETDEL.
// Used for refresh grants, which are single-use under rotation: of N
// concurrent consumers exactly one gets the record.
func (s *Store) ConsumeToken(ctx context.Context, tokenHash string) (*storage.Token, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.tokenKey(tokenHash)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, unavailable("consume token", err)
	}

	j, err := unmarshalSealed[tokenJSON](s, data)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed token",
		"hash_prefix", util.SafeTruncate(tokenHash, hashLogLength))
	return fromTokenJSON(j), nil
}

// DeleteToken removes a token record. Deleting an absent token is not an
// error.
func (s *Store) DeleteToken(ctx context.Context, tokenHash string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(tokenHash)).Build()).Error(); err != nil {
		return unavailable("delete token", err)
	}
	return nil
}

// TouchToken updates the record's last-used timestamp while preserving the
// remaining TTL via SET KEEPTTL. Touching an absent token is not an error;
// the record may have expired between validation and touch.
func (s *Store) TouchToken(ctx context.Context, tokenHash string, usedAt time.Time) error {
	key := s.tokenKey(tokenHash)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil
		}
		return unavailable("touch token", err)
	}

	j, err := unmarshalSealed[tokenJSON](s, data)
	if err != nil {
		return err
	}

	j.LastUsedAt = usedAt.Unix()

	updated, err := marshalSealed(s, j)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(updated).Keepttl().Build(),
	).Error(); err != nil {
		return unavailable("touch token", err)
	}

	return nil
}

// AddUserToken registers a token hash in the user's token set and refreshes
// the set's TTL.
func (s *Store) AddUserToken(ctx context.Context, userID, tokenHash string) error {
	if userID == "" || tokenHash == "" {
		return fmt.Errorf("userID and token hash cannot be empty")
	}

	key := s.userTokensKey(userID)

	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(key).Member(tokenHash).Build(),
	).Error(); err != nil {
		return unavailable("add user token", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(userTokenSetTTL.Seconds())).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to set TTL on user token set",
			"error", err)
	}

	return nil
}

// GetUserTokens returns the token hashes registered for a user. An unknown
// user yields an empty slice.
func (s *Store) GetUserTokens(ctx context.Context, userID string) ([]string, error) {
	hashes, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.userTokensKey(userID)).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, unavailable("get user tokens", err)
	}

	return hashes, nil
}

// RemoveUserToken removes a token hash from the user's token set.
func (s *Store) RemoveUserToken(ctx context.Context, userID, tokenHash string) error {
	if err := s.client.Do(ctx,
		s.client.B().Srem().Key(s.userTokensKey(userID)).Member(tokenHash).Build(),
	).Error(); err != nil {
		return unavailable("remove user token", err)
	}
	return nil
}

// DeleteUserTokens removes the user's entire token set.
func (s *Store) DeleteUserTokens(ctx context.Context, userID string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.userTokensKey(userID)).Build()).Error(); err != nil {
		return unavailable("delete user tokens", err)
	}
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
	if ttl <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	data, err := marshalSealed(s, toApplicationJSON(app))
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.appKey(app.ClientID)).Value(data).Ex(ttl).Build(),
	).Error(); err != nil {
		return unavailable("cache application", err)
	}

	s.logger.Debug("Cached application", "client_id", app.ClientID)
	return nil
}

// GetCachedApplication retrieves a cached application by client ID.
func (s *Store) GetCachedApplication(ctx context.Context, clientID string) (*storage.Application, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.appKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrApplicationNotFound
		}
		return nil, unavailable("get cached application", err)
	}

	j, err := unmarshalSealed[applicationJSON](s, data)
	if err != nil {
		return nil, err
	}

	return fromApplicationJSON(j), nil
}

// InvalidateApplication drops a cached application. Invalidating an absent
// entry is not an error.
func (s *Store) InvalidateApplication(ctx context.Context, clientID string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.appKey(clientID)).Build()).Error(); err != nil {
		return unavailable("invalidate application", err)
	}

	s.logger.Debug("Invalidated cached application", "client_id", clientID)
	return nil
}
