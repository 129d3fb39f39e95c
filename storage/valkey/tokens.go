package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskhaven/authcore/internal/util"
	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// SaveRefreshToken persists a refresh token record keyed by digest, with
// a TTL matching its expiry. The digest is also indexed in the
// user+client set so RevokeAllForUserClient can find it.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Digest == "" {
		return fmt.Errorf("invalid refresh token record")
	}
	if err := validateIDLength(token.Digest, "digest"); err != nil {
		return err
	}
	if err := validateIDLength(token.UserID, "user ID"); err != nil {
		return err
	}
	if err := validateIDLength(token.ClientID, "client ID"); err != nil {
		return err
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	key := s.refreshKey(token.Digest)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.addToUserClientSet(ctx, token.Digest, token.UserID, token.ClientID, ttl)

	s.logger.Debug("Saved refresh token",
		"digest_prefix", util.SafeTruncate(token.Digest, digestLogLength))
	return nil
}

// addToUserClientSet indexes a digest for bulk revocation. Failures are
// logged but not fatal; a missing index entry only weakens bulk
// revocation, not the rotation invariant.
func (s *Store) addToUserClientSet(ctx context.Context, digest, userID, clientID string, ttl time.Duration) {
	setKey := s.userClientKey(userID, clientID)

	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(setKey).Member(digest).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to add digest to user+client set",
			"user_id", userID,
			"client_id", clientID,
			"error", err)
		return
	}

	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(setKey).Seconds(int64(ttl.Seconds())).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to set TTL on user+client set",
			"user_id", userID,
			"client_id", clientID,
			"error", err)
	}
}

// GetRefreshToken retrieves a refresh token record by digest
func (s *Store) GetRefreshToken(ctx context.Context, digest string) (*storage.RefreshToken, error) {
	token, err := getAndUnmarshal(ctx, s, s.refreshKey(digest),
		storage.ErrRefreshTokenNotFound, fromRefreshTokenJSON)
	if err != nil {
		return nil, err
	}

	if token.Revoked {
		return nil, storage.ErrRefreshTokenRevoked
	}
	if security.IsExpired(token.ExpiresAt) {
		return nil, storage.ErrRefreshTokenExpired
	}

	return token, nil
}

// AtomicConsumeRefreshToken atomically retrieves an active refresh token
// record and marks it revoked, returning the record as it was before
// revocation. The check-and-revoke runs as a Lua script; only ONE
// concurrent caller across all server instances can succeed, and a
// replay of the consumed token reports ErrRefreshTokenRevoked for as
// long as the record's TTL runs.
func (s *Store) AtomicConsumeRefreshToken(ctx context.Context, digest string) (*storage.RefreshToken, error) {
	key := s.refreshKey(digest)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAtomicConsumeRefresh).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Arg(fmt.Sprintf("%d", int64(security.DefaultClockSkewGracePeriod.Seconds()))).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh consumption: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrRefreshTokenNotFound
	case "EXPIRED":
		return nil, storage.ErrRefreshTokenExpired
	case "REVOKED":
		return nil, storage.ErrRefreshTokenRevoked
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	s.logger.Debug("Consumed refresh token for rotation",
		"digest_prefix", util.SafeTruncate(digest, digestLogLength))

	return fromRefreshTokenJSON(&j), nil
}

// RevokeRefreshToken marks a refresh token revoked. Revoking an unknown
// or already revoked digest is not an error.
func (s *Store) RevokeRefreshToken(ctx context.Context, digest string) error {
	key := s.refreshKey(digest)

	revoked, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeRefresh).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	if revoked == 1 {
		s.logger.Debug("Revoked refresh token",
			"digest_prefix", util.SafeTruncate(digest, digestLogLength))
	}
	return nil
}

// RevokeAllForUserClient revokes every active refresh token for a
// user+client combination via the digest index. Returns the number of
// tokens actually revoked.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	if err := validateIDLength(userID, "user ID"); err != nil {
		return 0, err
	}
	if err := validateIDLength(clientID, "client ID"); err != nil {
		return 0, err
	}

	setKey := s.userClientKey(userID, clientID)

	digests, err := s.client.Do(ctx, s.client.B().Smembers().Key(setKey).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list user+client digests: %w", err)
	}

	now := fmt.Sprintf("%d", time.Now().Unix())
	revoked := 0
	for _, digest := range digests {
		n, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaRevokeRefresh).
				Numkeys(1).
				Key(s.refreshKey(digest)).
				Arg(now).
				Build(),
		).AsInt64()
		if err != nil {
			s.logger.Warn("Failed to revoke refresh token during bulk revocation",
				"digest_prefix", util.SafeTruncate(digest, digestLogLength),
				"error", err)
			continue
		}
		revoked += int(n)
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(setKey).Build()).Error(); err != nil {
		s.logger.Warn("Failed to delete user+client set",
			"user_id", userID,
			"client_id", clientID,
			"error", err)
	}

	if revoked > 0 {
		s.logger.Info("Revoked all refresh tokens for user+client",
			"revoked", revoked,
			"client_id", clientID)
	}
	return revoked, nil
}
