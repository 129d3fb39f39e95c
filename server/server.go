package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/instrumentation"
	"github.com/taskhaven/authcore/keys"
	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// minHMACKeyLen is the minimum length of the refresh-token MAC key.
// 32 bytes matches the HMAC-SHA256 block-independent security level.
const minHMACKeyLen = 32

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging token and code prefixes.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization core. It validates authorization
// requests, issues and redeems single-use codes, mints signed tokens,
// rotates refresh tokens, and records everything through the Auditor.
type Server struct {
	codes         storage.CodeStore
	refreshTokens storage.RefreshTokenStore
	clients       storage.ClientStore
	users         storage.UserDirectory
	keys          *keys.Manager
	replay        *replayCache
	ipTracker     *security.IPTracker

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
	Config  *Config
}

// New creates an authorization core server. The stores, user directory,
// and key manager are required; configuration gaps are filled with
// secure defaults.
func New(
	codes storage.CodeStore,
	refreshTokens storage.RefreshTokenStore,
	clients storage.ClientStore,
	users storage.UserDirectory,
	keyManager *keys.Manager,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if codes == nil {
		return nil, authcore.ErrConfiguration("code store is required")
	}
	if refreshTokens == nil {
		return nil, authcore.ErrConfiguration("refresh token store is required")
	}
	if clients == nil {
		return nil, authcore.ErrConfiguration("client store is required")
	}
	if users == nil {
		return nil, authcore.ErrConfiguration("user directory is required")
	}
	if keyManager == nil {
		return nil, authcore.ErrConfiguration("key manager is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if err := validateIssuer(config.Issuer); err != nil {
		return nil, err
	}
	if len(config.RefreshTokenHMACKey) < minHMACKeyLen {
		return nil, authcore.ErrConfiguration("refresh token HMAC key must be at least 32 bytes")
	}

	srv := &Server{
		codes:         codes,
		refreshTokens: refreshTokens,
		clients:       clients,
		users:         users,
		keys:          keyManager,
		replay:        newReplayCache(time.Duration(config.ReplayCacheTTL) * time.Second),
		ipTracker: security.NewIPTracker(
			config.IPLockoutThreshold,
			time.Duration(config.IPLockoutWindow)*time.Second,
			0),
		Config: config,
		Logger: logger,
	}

	return srv, nil
}

// SetAuditor sets the security auditor and applies the configured
// lockout policy to it: the server's IP tracker replaces the auditor's
// own, and the account threshold and window come from Config.
func (s *Server) SetAuditor(aud *security.Auditor) {
	if aud != nil {
		aud.SetIPTracker(s.ipTracker)
		aud.SetAccountLockoutPolicy(s.Config.AccountLockoutThreshold,
			time.Duration(s.Config.AccountLockoutWindow)*time.Second)
		if s.Metrics != nil {
			aud.SetLockoutRecorder(s.Metrics)
		}
	}
	s.Auditor = aud
}

// SetMetrics sets the OpenTelemetry metrics recorder
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.Metrics = m
	if s.Auditor != nil {
		s.Auditor.SetLockoutRecorder(m)
	}
}

// ClientIP extracts the client address from an inbound request using the
// configured proxy trust settings. The outer layer passes the result to
// the flow operations so audit events and the lockout counters see the
// real source address.
func (s *Server) ClientIP(r *http.Request) string {
	return security.ClientIP(r, s.Config.TrustProxy, s.Config.TrustedProxyCount)
}

// JWKS returns the public key-set document resource servers use to
// verify signed tokens.
func (s *Server) JWKS() jose.JSONWebKeySet {
	return s.keys.JWKS()
}

// Metadata returns the authorization server metadata document (RFC 8414)
// describing this core's capabilities. The outer layer fills in the
// endpoint paths it mounts.
func (s *Server) Metadata() *authcore.AuthorizationServerMetadata {
	return &authcore.AuthorizationServerMetadata{
		Issuer:                           s.Config.Issuer,
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		IDTokenSigningAlgValuesSupported: []string{s.keys.Algorithm()},
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
	}
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a 43
// character URL-safe string carrying 256 bits of entropy, suitable for
// authorization codes and refresh-token secrets.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// refreshDigest computes the deterministic keyed MAC under which a
// refresh-token secret is stored and later looked up. A keyed MAC keeps
// the stored value useless to anyone who reads the token table, while
// the same presented secret always maps to the same digest.
func (s *Server) refreshDigest(secret string) string {
	mac := hmac.New(sha256.New, s.Config.RefreshTokenHMACKey)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// audit records an event when an auditor is configured.
func (s *Server) audit(ctx context.Context, event security.Event) {
	if s.Auditor != nil {
		s.Auditor.Log(ctx, event)
	}
	if s.Metrics != nil {
		s.Metrics.RecordAuditEvent(ctx, event.Type)
	}
}
