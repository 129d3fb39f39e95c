package server

import (
	"context"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// Token type hints per RFC 7009.
const (
	HintRefreshToken = "refresh_token" //nolint:gosec // G101: wire hint value, not a credential
	HintAccessToken  = "access_token"  //nolint:gosec // G101: wire hint value, not a credential
)

// Revoke revokes a token per RFC 7009. Refresh-token revocation is tried
// first unless the hint says otherwise; the access-token path only
// validates the token's structure and client_id claim, since access
// tokens are self-contained and there is no denylist. The call is
// idempotent: an unknown or already-dead token is a success.
func (s *Server) Revoke(ctx context.Context, token, tokenTypeHint, clientID string) error {
	if token == "" {
		return nil
	}

	if tokenTypeHint != HintAccessToken {
		if revoked := s.revokeRefreshToken(ctx, token, clientID); revoked {
			return nil
		}
	}

	s.revokeAccessToken(ctx, token, clientID)
	return nil
}

// RevokeAllForUserClient revokes every active refresh token for a
// user+client pair (logout-everywhere, or the response to a detected
// token theft).
func (s *Server) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	count, err := s.refreshTokens.RevokeAllForUserClient(ctx, userID, clientID)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.audit(ctx, security.Event{
			Type:     security.EventTokenRevoked,
			UserID:   userID,
			ClientID: clientID,
			Success:  true,
			Metadata: map[string]any{"tokens_revoked": count},
		})
	}
	return count, nil
}

// revokeRefreshToken looks the presented value up as a refresh token and
// marks it revoked. Returns false when no matching active token belongs
// to the client, so the caller can fall through to the access-token path.
func (s *Server) revokeRefreshToken(ctx context.Context, token, clientID string) bool {
	digest := s.refreshDigest(token)

	record, err := s.refreshTokens.GetRefreshToken(ctx, digest)
	if err != nil {
		if !errors.Is(err, storage.ErrRefreshTokenNotFound) {
			s.Logger.Debug("Refresh token lookup failed during revocation", "error", err)
		}
		return false
	}

	// A token bound to a different client is treated as not found; RFC
	// 7009 keeps revocation outcomes indistinguishable.
	if record.ClientID != clientID {
		s.Logger.Debug("Revocation client binding mismatch",
			"expected_client_id", record.ClientID,
			"provided_client_id", clientID)
		return true
	}

	if err := s.refreshTokens.RevokeRefreshToken(ctx, digest); err != nil {
		s.Logger.Warn("Failed to revoke refresh token", "error", err)
		return true
	}

	s.audit(ctx, security.Event{
		Type:     security.EventTokenRevoked,
		UserID:   record.UserID,
		ClientID: clientID,
		Success:  true,
		Metadata: map[string]any{"token_type": HintRefreshToken},
	})
	if s.Metrics != nil {
		s.Metrics.RecordRevocation(ctx, HintRefreshToken)
	}
	return true
}

// revokeAccessToken validates an access token's structure and client_id
// claim. A malformed, foreign, or expired token still counts as revoked;
// a structurally valid live token is audited even though it stays usable
// until expiry.
func (s *Server) revokeAccessToken(ctx context.Context, token, clientID string) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		s.Logger.Debug("Revocation of structurally invalid token", "error", err)
		return
	}

	kid := ""
	if len(parsed.Headers) > 0 {
		kid = parsed.Headers[0].KeyID
	}
	pub := s.keys.PublicKey(kid)
	if pub == nil {
		s.Logger.Debug("Revocation of token with unknown key id", "kid", kid)
		return
	}

	var std jwt.Claims
	var custom struct {
		ClientID string `json:"client_id"`
	}
	if err := parsed.Claims(pub, &std, &custom); err != nil {
		s.Logger.Debug("Revocation of token with invalid signature", "error", err)
		return
	}

	if custom.ClientID != clientID {
		s.Logger.Debug("Revocation client_id claim mismatch",
			"provided_client_id", clientID)
		return
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if std.Expiry != nil && security.IsExpiredWithGracePeriod(std.Expiry.Time(), grace) {
		// Already dead; nothing to do.
		return
	}

	s.audit(ctx, security.Event{
		Type:     security.EventTokenRevoked,
		UserID:   std.Subject,
		ClientID: clientID,
		Success:  true,
		Metadata: map[string]any{"token_type": HintAccessToken, "stateless": true},
	})
	if s.Metrics != nil {
		s.Metrics.RecordRevocation(ctx, HintAccessToken)
	}
}
