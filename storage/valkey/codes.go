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

// SaveAuthorizationCode persists a freshly issued authorization code
// with a TTL matching its expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateIDLength(code.Code, "code"); err != nil {
		return err
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	key := s.codeKey(code.Code)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, digestLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying
// it. For redemption use AtomicConsumeAuthorizationCode instead.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	authCode, err := getAndUnmarshal(ctx, s, s.codeKey(code),
		storage.ErrCodeNotFound, fromAuthorizationCodeJSON)
	if err != nil {
		return nil, err
	}

	// TTL should handle this, but double-check
	if security.IsExpired(authCode.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	return authCode, nil
}

// AtomicConsumeAuthorizationCode atomically checks that a code is unused
// and unexpired and flips its used flag. The check-and-set runs as a Lua
// script; only ONE concurrent caller across all server instances can
// succeed.
func (s *Store) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAtomicConsumeCode).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Arg(fmt.Sprintf("%d", int64(security.DefaultClockSkewGracePeriod.Seconds()))).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code consumption: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrCodeNotFound
	case "EXPIRED":
		return nil, storage.ErrCodeExpired
	case "ALREADY_USED":
		return nil, storage.ErrCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, digestLogLength))

	return fromAuthorizationCodeJSON(&j), nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := s.codeKey(code)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}

	s.logger.Debug("Deleted authorization code")
	return nil
}
