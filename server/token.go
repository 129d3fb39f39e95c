package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// TokenRequest carries the parsed form fields of a token request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string

	IPAddress string
	UserAgent string
}

// ProcessTokenRequest dispatches a token request on the closed grant
// enumeration and returns the token response or a structured error. The
// unsupported-grant error names the rejected type; every grant-level
// failure is a generic invalid_grant.
func (s *Server) ProcessTokenRequest(ctx context.Context, req *TokenRequest) (*authcore.TokenResponse, error) {
	if req.ClientID == "" {
		return nil, authcore.ErrInvalidRequest("client_id is required")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, authcore.ErrInvalidClient("unknown client")
	}
	if verr := s.authenticateClient(ctx, client, req.ClientSecret); verr != nil {
		return nil, verr
	}

	grant := ParseGrantType(req.GrantType)
	switch grant {
	case GrantTypeAuthorizationCode:
		resp, err := s.exchangeAuthorizationCode(ctx, req)
		if s.Metrics != nil {
			s.Metrics.RecordExchange(ctx, grant.String(), err == nil)
		}
		return resp, err

	case GrantTypeRefreshToken:
		resp, err := s.refreshAccessToken(ctx, req)
		if s.Metrics != nil {
			s.Metrics.RecordRefresh(ctx, err == nil)
		}
		return resp, err

	case GrantTypeUnknown:
		return nil, authcore.ErrUnsupportedGrantType("unsupported grant_type: " + req.GrantType)
	}

	return nil, authcore.ErrUnsupportedGrantType("unsupported grant_type: " + req.GrantType)
}

// authenticateClient verifies a confidential client's secret. Public
// clients carry no secret and rely on PKCE instead.
func (s *Server) authenticateClient(ctx context.Context, client *storage.Client, clientSecret string) *authcore.Error {
	if client.ClientType != "confidential" {
		return nil
	}
	if clientSecret == "" {
		return authcore.ErrInvalidClient("client authentication required")
	}
	if err := s.clients.ValidateClientSecret(ctx, client.ClientID, clientSecret); err != nil {
		s.audit(ctx, security.Event{
			Type:      security.EventLoginFailed,
			ClientID:  client.ClientID,
			Success:   false,
			ErrorCode: authcore.ErrorCodeInvalidClient,
		})
		return authcore.ErrInvalidClient("client authentication failed")
	}
	return nil
}

// exchangeAuthorizationCode implements the authorization_code grant:
// redeem the code, sign an access token, issue a refresh token, and mint
// an ID token when the granted scopes include openid. The outcome is
// written to the replay cache in the same logical operation so a timed
// out client can retry and get the identical response.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*authcore.TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" {
		return nil, authcore.ErrInvalidRequest("code and redirect_uri are required")
	}

	if resp, cachedErr, hit := s.replay.lookup(req.Code); hit {
		s.audit(ctx, security.Event{
			Type:      security.EventReplayServed,
			ClientID:  req.ClientID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			Success:   cachedErr == nil,
		})
		if s.Metrics != nil {
			s.Metrics.RecordReplayHit(ctx, req.ClientID)
		}
		if cachedErr != nil {
			return nil, cachedErr
		}
		return resp, nil
	}

	authCode, err := s.ConsumeAuthorizationCode(ctx, req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		if oauthErr, ok := err.(*authcore.Error); ok {
			s.replay.storeFailure(req.Code, oauthErr)
		}
		return nil, err
	}

	user, err := s.users.GetUser(ctx, authCode.UserID)
	if err != nil {
		s.Logger.Error("User lookup failed after code redemption",
			"user_id", authCode.UserID,
			"error", err)
		return nil, authcore.ErrServerError("user lookup failed")
	}

	now := time.Now()
	accessToken, verr := s.signAccessToken(user, req.ClientID, authCode.Scope, now)
	if verr != nil {
		return nil, verr
	}

	refreshToken, verr := s.issueRefreshToken(ctx, user.ID, req.ClientID, authCode.Scope, now)
	if verr != nil {
		return nil, verr
	}

	resp := &authcore.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: refreshToken,
		Scope:        authCode.Scope,
	}

	if scopeContains(authCode.Scope, "openid") {
		idToken, verr := s.signIDToken(user, req.ClientID, authCode, now)
		if verr != nil {
			return nil, verr
		}
		resp.IDToken = idToken
	}

	s.replay.storeSuccess(req.Code, resp)

	s.audit(ctx, security.Event{
		Type:      security.EventTokenIssued,
		UserID:    user.ID,
		ClientID:  req.ClientID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
		Metadata:  map[string]any{"scope": authCode.Scope},
	})

	return resp, nil
}

// refreshAccessToken implements the refresh_token grant with rotation:
// the presented token is atomically revoked, a new access token is
// signed, and exactly one new refresh token becomes live for the lineage.
func (s *Server) refreshAccessToken(ctx context.Context, req *TokenRequest) (*authcore.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, authcore.ErrInvalidRequest("refresh_token is required")
	}

	digest := s.refreshDigest(req.RefreshToken)
	record, err := s.refreshTokens.AtomicConsumeRefreshToken(ctx, digest)
	if err != nil {
		eventType := security.EventValidationFailed
		userID := ""
		if record != nil {
			userID = record.UserID
		}
		if errors.Is(err, storage.ErrRefreshTokenRevoked) {
			// A rotated or revoked token presented again is the token
			// theft indicator, not a routine failure.
			eventType = security.EventRefreshTokenReuse
			if s.Metrics != nil {
				s.Metrics.RecordRefreshReuse(ctx, req.ClientID)
			}
		}

		s.Logger.Debug("Refresh token validation failed",
			"reason", err.Error(),
			"client_id", req.ClientID,
			"token_prefix", safeTruncate(req.RefreshToken, 8))

		s.audit(ctx, security.Event{
			Type:      eventType,
			UserID:    userID,
			ClientID:  req.ClientID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			Success:   false,
			ErrorCode: authcore.ErrorCodeInvalidGrant,
		})
		return nil, authcore.ErrInvalidGrant("invalid grant")
	}

	// Old token is revoked; only this request can mint its successor.

	if record.ClientID != req.ClientID {
		s.Logger.Debug("Refresh token client binding mismatch",
			"expected_client_id", record.ClientID,
			"provided_client_id", req.ClientID)

		s.audit(ctx, security.Event{
			Type:      security.EventValidationFailed,
			UserID:    record.UserID,
			ClientID:  req.ClientID,
			Success:   false,
			ErrorCode: authcore.ErrorCodeInvalidGrant,
		})
		return nil, authcore.ErrInvalidGrant("invalid grant")
	}

	user, err := s.users.GetUser(ctx, record.UserID)
	if err != nil {
		s.Logger.Error("User lookup failed during refresh",
			"user_id", record.UserID,
			"error", err)
		return nil, authcore.ErrServerError("user lookup failed")
	}

	now := time.Now()
	accessToken, verr := s.signAccessToken(user, req.ClientID, record.Scope, now)
	if verr != nil {
		return nil, verr
	}

	newRefreshToken, verr := s.issueRefreshToken(ctx, user.ID, req.ClientID, record.Scope, now)
	if verr != nil {
		return nil, verr
	}

	s.audit(ctx, security.Event{
		Type:      security.EventTokenRefreshed,
		UserID:    user.ID,
		ClientID:  req.ClientID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	return &authcore.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: newRefreshToken,
		Scope:        record.Scope,
	}, nil
}

// signAccessToken builds and signs the access token claim set.
func (s *Server) signAccessToken(user *storage.User, clientID, scope string, now time.Time) (string, *authcore.Error) {
	std := jwt.Claims{
		Issuer:    s.Config.Issuer,
		Subject:   user.ID,
		Audience:  jwt.Audience{clientID},
		Expiry:    jwt.NewNumericDate(now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	custom := map[string]any{
		"scope":     scope,
		"client_id": clientID,
		"user_id":   user.ID,
	}
	if user.Email != "" {
		custom["email"] = user.Email
		custom["email_verified"] = user.EmailVerified
	}

	return s.sign(std, custom)
}

// signIDToken builds and signs the OIDC ID token, echoing the nonce and
// auth_time recorded at authorization.
func (s *Server) signIDToken(user *storage.User, clientID string, authCode *storage.AuthorizationCode, now time.Time) (string, *authcore.Error) {
	std := jwt.Claims{
		Issuer:    s.Config.Issuer,
		Subject:   user.ID,
		Audience:  jwt.Audience{clientID},
		Expiry:    jwt.NewNumericDate(now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	custom := map[string]any{
		"auth_time": authCode.AuthTime.Unix(),
	}
	if authCode.Nonce != "" {
		custom["nonce"] = authCode.Nonce
	}
	if user.Email != "" {
		custom["email"] = user.Email
		custom["email_verified"] = user.EmailVerified
	}
	if user.Name != "" {
		custom["name"] = user.Name
	}
	if user.GivenName != "" {
		custom["given_name"] = user.GivenName
	}
	if user.FamilyName != "" {
		custom["family_name"] = user.FamilyName
	}
	if user.Picture != "" {
		custom["picture"] = user.Picture
	}
	if user.Locale != "" {
		custom["locale"] = user.Locale
	}

	return s.sign(std, custom)
}

// sign serializes and signs a claim set with the current key. A signing
// failure never returns a partial token.
func (s *Server) sign(std jwt.Claims, custom map[string]any) (string, *authcore.Error) {
	signer, err := s.keys.Signer()
	if err != nil {
		s.Logger.Error("Failed to construct token signer", "error", err)
		return "", authcore.ErrServerError("token signing failed")
	}

	token, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		s.Logger.Error("Failed to sign token", "error", err)
		return "", authcore.ErrServerError("token signing failed")
	}
	return token, nil
}

// issueRefreshToken mints an opaque refresh-token secret and persists its
// keyed-MAC digest. The plaintext secret exists only in the response.
func (s *Server) issueRefreshToken(ctx context.Context, userID, clientID, scope string, now time.Time) (string, *authcore.Error) {
	secret := generateRandomToken()

	record := &storage.RefreshToken{
		Digest:    s.refreshDigest(secret),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
	}
	if err := s.refreshTokens.SaveRefreshToken(ctx, record); err != nil {
		s.Logger.Error("Failed to save refresh token", "error", err, "client_id", clientID)
		return "", authcore.ErrServerError("failed to persist refresh token")
	}

	return secret, nil
}

// scopeContains reports whether the space-joined scope set includes the
// given scope.
func scopeContains(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}
