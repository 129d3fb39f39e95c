package server

import (
	"context"
	"time"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/pkce"
	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// AuthorizationRequest carries the parsed fields of an authorization
// request. The outer layer fills IPAddress and UserAgent for the audit
// trail; they do not affect the authorization decision.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string

	IPAddress string
	UserAgent string
}

// Authorize validates an authorization request against the client
// registry and mints a single-use authorization code for the
// authenticated user. The resource owner is authenticated by the caller;
// this core only binds the result to a code.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, user *storage.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", authcore.ErrInvalidRequest("authenticated user is required")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		s.auditValidationFailure(ctx, req, "", authcore.ErrorCodeInvalidClient)
		return "", authcore.ErrInvalidClient("unknown client")
	}

	if verr := validateRedirectURI(client, req.RedirectURI); verr != nil {
		s.auditValidationFailure(ctx, req, user.ID, verr.Code)
		return "", verr
	}

	if req.ResponseType != "code" {
		s.auditValidationFailure(ctx, req, user.ID, authcore.ErrorCodeInvalidRequest)
		return "", authcore.ErrInvalidRequest("unsupported response_type")
	}

	grantedScope, verr := validateScopes(client, req.Scope, s.Config.DefaultScope)
	if verr != nil {
		s.auditValidationFailure(ctx, req, user.ID, verr.Code)
		return "", verr
	}

	if verr := validatePKCEParams(req.CodeChallenge, req.CodeChallengeMethod); verr != nil {
		s.auditValidationFailure(ctx, req, user.ID, verr.Code)
		return "", verr
	}

	now := time.Now()
	code := generateRandomToken()

	record := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               grantedScope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		State:               req.State,
		AuthTime:            now,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}
	if err := s.codes.SaveAuthorizationCode(ctx, record); err != nil {
		s.Logger.Error("Failed to save authorization code", "error", err, "client_id", req.ClientID)
		return "", authcore.ErrServerError("failed to persist authorization code")
	}

	s.audit(ctx, security.Event{
		Type:      security.EventAuthorizationCodeIssued,
		UserID:    user.ID,
		ClientID:  req.ClientID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   true,
		Metadata: map[string]any{
			"scope":                 grantedScope,
			"code_challenge_method": req.CodeChallengeMethod,
		},
	})
	if s.Metrics != nil {
		s.Metrics.RecordCodeIssued(ctx, req.ClientID)
	}

	return code, nil
}

// ConsumeAuthorizationCode redeems an authorization code exactly once.
// Missing, expired, already-used, and parameter-mismatch failures all
// surface as the same invalid_grant so callers cannot probe code state;
// the audit trail and debug logs keep the distinction.
//
// The returned record is the only way downstream code learns who
// authenticated and which scopes were granted.
func (s *Server) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*storage.AuthorizationCode, error) {
	authCode, err := s.codes.AtomicConsumeAuthorizationCode(ctx, code)
	if err != nil {
		s.Logger.Debug("Authorization code redemption failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))

		s.audit(ctx, security.Event{
			Type:      security.EventAuthorizationCodeExpired,
			ClientID:  clientID,
			Success:   false,
			ErrorCode: authcore.ErrorCodeInvalidGrant,
		})
		return nil, authcore.ErrInvalidGrant("invalid grant")
	}

	// Code is now atomically marked used; nothing else can redeem it.

	if authCode.ClientID != clientID || authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code redemption failed",
			"reason", "binding_mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))

		s.audit(ctx, security.Event{
			Type:      security.EventAuthorizationCodeExpired,
			UserID:    authCode.UserID,
			ClientID:  clientID,
			Success:   false,
			ErrorCode: authcore.ErrorCodeInvalidGrant,
		})
		return nil, authcore.ErrInvalidGrant("invalid grant")
	}

	if authCode.CodeChallenge != "" {
		// Malformed verifiers are rejected on length and character set
		// before any hashing happens.
		if !pkce.ValidVerifierFormat(codeVerifier) ||
			!pkce.Verify(codeVerifier, authCode.CodeChallenge, authCode.CodeChallengeMethod) {
			s.audit(ctx, security.Event{
				Type:      security.EventPKCEFailed,
				UserID:    authCode.UserID,
				ClientID:  clientID,
				Success:   false,
				ErrorCode: authcore.ErrorCodeInvalidGrant,
			})
			if s.Metrics != nil {
				s.Metrics.RecordPKCEFailure(ctx, clientID)
			}
			return nil, authcore.ErrInvalidGrant("invalid grant")
		}
	}

	s.audit(ctx, security.Event{
		Type:     security.EventAuthorizationCodeUsed,
		UserID:   authCode.UserID,
		ClientID: clientID,
		Success:  true,
	})

	return authCode, nil
}

// auditValidationFailure records a rejected authorization request.
func (s *Server) auditValidationFailure(ctx context.Context, req *AuthorizationRequest, userID, errorCode string) {
	s.audit(ctx, security.Event{
		Type:      security.EventValidationFailed,
		UserID:    userID,
		ClientID:  req.ClientID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Success:   false,
		ErrorCode: errorCode,
	})
}
