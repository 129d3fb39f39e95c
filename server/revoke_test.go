package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/internal/testutil"
	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// recordingEventStore captures audit events for inspection.
type recordingEventStore struct {
	mu     sync.Mutex
	events []*storage.SecurityEvent
}

func (r *recordingEventStore) AppendSecurityEvent(_ context.Context, event *storage.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEventStore) CountFailedLogins(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func (r *recordingEventStore) CountFailedLoginsSince(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (r *recordingEventStore) countType(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			count++
		}
	}
	return count
}

// exchange runs the full authorize-and-exchange flow and returns the
// token response.
func exchange(t *testing.T, env *testEnv, scope string) *authcore.TokenResponse {
	t.Helper()
	code, verifier := issueCode(t, env, scope)

	resp, err := env.srv.ProcessTokenRequest(context.Background(), &TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     testClientID,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return resp
}

func TestRevokeRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := exchange(t, env, "openid")

	if err := env.srv.Revoke(ctx, resp.RefreshToken, HintRefreshToken, testClientID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	digest := env.srv.refreshDigest(resp.RefreshToken)
	if _, err := env.store.GetRefreshToken(ctx, digest); !errors.Is(err, storage.ErrRefreshTokenRevoked) {
		t.Errorf("expected ErrRefreshTokenRevoked after revocation, got %v", err)
	}

	// Revoking again is still a success (RFC 7009 idempotency).
	if err := env.srv.Revoke(ctx, resp.RefreshToken, HintRefreshToken, testClientID); err != nil {
		t.Errorf("repeat revocation: %v", err)
	}
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.Revoke(context.Background(), "never-issued", "", testClientID); err != nil {
		t.Errorf("unknown token revocation must succeed: %v", err)
	}
	if err := env.srv.Revoke(context.Background(), "", "", testClientID); err != nil {
		t.Errorf("empty token revocation must succeed: %v", err)
	}
}

func TestRevokeForeignClientLeavesTokenAlive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := exchange(t, env, "openid")

	// Another client revoking this token gets the same silent success,
	// but the token must stay usable by its owner.
	if err := env.srv.Revoke(ctx, resp.RefreshToken, HintRefreshToken, testConfClientID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := env.srv.ProcessTokenRequest(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     testClientID,
		RefreshToken: resp.RefreshToken,
	}); err != nil {
		t.Errorf("token revoked by a foreign client: %v", err)
	}
}

func TestRevokeAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := exchange(t, env, "openid")

	// Access tokens are stateless; revocation validates and audits but
	// always reports success.
	if err := env.srv.Revoke(ctx, resp.AccessToken, HintAccessToken, testClientID); err != nil {
		t.Errorf("access token revocation: %v", err)
	}

	// Foreign client_id claim mismatch is still a success.
	if err := env.srv.Revoke(ctx, resp.AccessToken, HintAccessToken, testConfClientID); err != nil {
		t.Errorf("foreign access token revocation: %v", err)
	}
}

func TestRevokeWithoutHintFindsRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := exchange(t, env, "openid")

	if err := env.srv.Revoke(ctx, resp.RefreshToken, "", testClientID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	digest := env.srv.refreshDigest(resp.RefreshToken)
	if _, err := env.store.GetRefreshToken(ctx, digest); !errors.Is(err, storage.ErrRefreshTokenRevoked) {
		t.Errorf("expected revocation without a hint, got %v", err)
	}
}

func TestRevokeAllForUserClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := exchange(t, env, "openid")
	second := exchange(t, env, "openid")

	count, err := env.srv.RevokeAllForUserClient(ctx, testUserID, testClientID)
	if err != nil {
		t.Fatalf("RevokeAllForUserClient: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 revoked tokens, got %d", count)
	}

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		_, err := env.srv.ProcessTokenRequest(ctx, &TokenRequest{
			GrantType:    "refresh_token",
			ClientID:     testClientID,
			RefreshToken: token,
		})
		oauthErr, ok := err.(*authcore.Error)
		if !ok || oauthErr.Code != authcore.ErrorCodeInvalidGrant {
			t.Errorf("revoked token still usable: %v", err)
		}
	}
}

func TestRevokeAccessTokenHonorsConfiguredSkewGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Mint a token whose expiry already passed, but within a generous
	// configured grace it still counts as live for revocation auditing.
	env.srv.Config.AccessTokenTTL = -10
	env.srv.Config.ClockSkewGracePeriod = 30

	rec := &recordingEventStore{}
	env.srv.SetAuditor(security.NewAuditor(rec, nil, testutil.DiscardLogger()))

	resp := exchange(t, env, "openid")

	if err := env.srv.Revoke(ctx, resp.AccessToken, HintAccessToken, testClientID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got := rec.countType(security.EventTokenRevoked); got != 1 {
		t.Errorf("within grace: %d TOKEN_REVOKED events, want 1", got)
	}

	// Outside a tighter grace the token is already dead: revocation
	// still succeeds but audits nothing.
	env.srv.Config.ClockSkewGracePeriod = 5
	if err := env.srv.Revoke(ctx, resp.AccessToken, HintAccessToken, testClientID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got := rec.countType(security.EventTokenRevoked); got != 1 {
		t.Errorf("outside grace: %d TOKEN_REVOKED events, want still 1", got)
	}
}
