package server

import (
	"context"
	"strings"
	"testing"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/internal/testutil"
	"github.com/taskhaven/authcore/storage"
)

func authRequest(challenge string) *AuthorizationRequest {
	return &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		ResponseType:        "code",
		Scope:               "openid profile",
		State:               "client-state",
		Nonce:               "nonce-123",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}
}

func TestAuthorizeIssuesCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, challenge := testutil.NewPKCEPair(t)

	code, err := env.srv.Authorize(ctx, authRequest(challenge), &storage.User{ID: testUserID})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if code == "" {
		t.Fatal("expected a non-empty code")
	}

	record, err := env.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode: %v", err)
	}
	if record.ClientID != testClientID {
		t.Errorf("client_id = %q, want %q", record.ClientID, testClientID)
	}
	if record.UserID != testUserID {
		t.Errorf("user_id = %q, want %q", record.UserID, testUserID)
	}
	if record.Scope != "openid profile" {
		t.Errorf("scope = %q, want %q", record.Scope, "openid profile")
	}
	if record.CodeChallenge != challenge || record.CodeChallengeMethod != "S256" {
		t.Error("PKCE parameters not bound to the code")
	}
	if record.Nonce != "nonce-123" {
		t.Errorf("nonce = %q, want %q", record.Nonce, "nonce-123")
	}
	if record.Used {
		t.Error("freshly issued code must not be marked used")
	}
	if record.AuthTime.IsZero() || record.ExpiresAt.Before(record.CreatedAt) {
		t.Error("timestamps not populated")
	}
}

func TestAuthorizeRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	_, challenge := testutil.NewPKCEPair(t)

	if _, err := env.srv.Authorize(context.Background(), authRequest(challenge), nil); err == nil {
		t.Error("expected error without an authenticated user")
	}
}

func TestAuthorizeRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := &storage.User{ID: testUserID}
	_, challenge := testutil.NewPKCEPair(t)

	tests := []struct {
		name     string
		mutate   func(req *AuthorizationRequest)
		wantCode string
	}{
		{
			name:     "unknown client",
			mutate:   func(req *AuthorizationRequest) { req.ClientID = "nope" },
			wantCode: authcore.ErrorCodeInvalidClient,
		},
		{
			name:     "unregistered redirect",
			mutate:   func(req *AuthorizationRequest) { req.RedirectURI = "https://evil.example/cb" },
			wantCode: authcore.ErrorCodeInvalidRedirectURI,
		},
		{
			name:     "missing redirect",
			mutate:   func(req *AuthorizationRequest) { req.RedirectURI = "" },
			wantCode: authcore.ErrorCodeInvalidRequest,
		},
		{
			name:     "unsupported response type",
			mutate:   func(req *AuthorizationRequest) { req.ResponseType = "token" },
			wantCode: authcore.ErrorCodeInvalidRequest,
		},
		{
			name:     "scope outside allow-list",
			mutate:   func(req *AuthorizationRequest) { req.Scope = "openid admin" },
			wantCode: authcore.ErrorCodeInvalidScope,
		},
		{
			name: "challenge method without challenge",
			mutate: func(req *AuthorizationRequest) {
				req.CodeChallenge = ""
				req.CodeChallengeMethod = "S256"
			},
			wantCode: authcore.ErrorCodeInvalidRequest,
		},
		{
			name:     "unsupported challenge method",
			mutate:   func(req *AuthorizationRequest) { req.CodeChallengeMethod = "S512" },
			wantCode: authcore.ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authRequest(challenge)
			tt.mutate(req)

			_, err := env.srv.Authorize(ctx, req, user)
			oauthErr, ok := err.(*authcore.Error)
			if !ok {
				t.Fatalf("expected *authcore.Error, got %v", err)
			}
			if oauthErr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", oauthErr.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthorizeAppliesDefaultScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, challenge := testutil.NewPKCEPair(t)

	req := authRequest(challenge)
	req.Scope = ""

	code, err := env.srv.Authorize(ctx, req, &storage.User{ID: testUserID})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	record, err := env.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode: %v", err)
	}
	if record.Scope != "openid" {
		t.Errorf("scope = %q, want default %q", record.Scope, "openid")
	}
}

func TestConsumeAuthorizationCodeUniformError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier, challenge := testutil.NewPKCEPair(t)

	code, err := env.srv.Authorize(ctx, authRequest(challenge), &storage.User{ID: testUserID})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Every redemption failure mode must surface as the same
	// invalid_grant with the same description.
	failures := []struct {
		name                            string
		code, clientID, uri, codeVerifier string
	}{
		{"unknown code", "no-such-code", testClientID, testRedirectURI, verifier},
		{"wrong client", code, "other-client", testRedirectURI, verifier},
		{"wrong redirect", code, testClientID, "https://app.example/other", verifier},
		{"wrong verifier", code, testClientID, testRedirectURI, "wrong-verifier-wrong-verifier-wrong-verifier"},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.srv.ConsumeAuthorizationCode(ctx, tt.code, tt.clientID, tt.uri, tt.codeVerifier)
			oauthErr, ok := err.(*authcore.Error)
			if !ok {
				t.Fatalf("expected *authcore.Error, got %v", err)
			}
			if oauthErr.Code != authcore.ErrorCodeInvalidGrant || oauthErr.Description != "invalid grant" {
				t.Errorf("got %q / %q, want uniform invalid_grant", oauthErr.Code, oauthErr.Description)
			}
		})
	}
}

func TestConsumeAuthorizationCodeMalformedVerifier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Verifiers outside the RFC 7636 length or character set are
	// rejected before hashing, with the same uniform invalid_grant.
	cases := []struct {
		name     string
		verifier string
	}{
		{"too short", "short"},
		{"too long", strings.Repeat("a", 129)},
		{"invalid character", strings.Repeat("a", 42) + "!"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, challenge := testutil.NewPKCEPair(t)
			code, err := env.srv.Authorize(ctx, authRequest(challenge), &storage.User{ID: testUserID})
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}

			_, err = env.srv.ConsumeAuthorizationCode(ctx, code, testClientID, testRedirectURI, tt.verifier)
			oauthErr, ok := err.(*authcore.Error)
			if !ok {
				t.Fatalf("expected *authcore.Error, got %v", err)
			}
			if oauthErr.Code != authcore.ErrorCodeInvalidGrant || oauthErr.Description != "invalid grant" {
				t.Errorf("got %q / %q, want uniform invalid_grant", oauthErr.Code, oauthErr.Description)
			}
		})
	}
}

func TestConsumeAuthorizationCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	verifier, challenge := testutil.NewPKCEPair(t)

	code, err := env.srv.Authorize(ctx, authRequest(challenge), &storage.User{ID: testUserID})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	record, err := env.srv.ConsumeAuthorizationCode(ctx, code, testClientID, testRedirectURI, verifier)
	if err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if record.UserID != testUserID {
		t.Errorf("user_id = %q, want %q", record.UserID, testUserID)
	}

	if _, err := env.srv.ConsumeAuthorizationCode(ctx, code, testClientID, testRedirectURI, verifier); err == nil {
		t.Error("second redemption must fail")
	}
}

func TestConsumeAuthorizationCodePlainMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := authRequest("plain-verifier-plain-verifier-plain-verifier")
	req.CodeChallengeMethod = "plain"

	code, err := env.srv.Authorize(ctx, req, &storage.User{ID: testUserID})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	if _, err := env.srv.ConsumeAuthorizationCode(ctx, code, testClientID, testRedirectURI,
		"plain-verifier-plain-verifier-plain-verifier"); err != nil {
		t.Errorf("plain verifier rejected: %v", err)
	}
}
