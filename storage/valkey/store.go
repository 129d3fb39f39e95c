package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authcore:"

	// DefaultEventRetentionDays is the default retention period for
	// audit events. Forensics and the lockout counters both read this
	// window.
	DefaultEventRetentionDays = 90

	// digestLogLength is the number of characters to include when
	// logging code and digest prefixes
	digestLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers
	// (userID, clientID, digests). Oversized input is rejected before it
	// reaches a key name.
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authcore:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// EventRetentionDays is the retention period for audit events.
	// Default: 90 days
	EventRetentionDays int
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client             valkeygo.Client
	prefix             string
	logger             *slog.Logger
	eventRetentionDays int
}

// Compile-time interface checks
var (
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.EventStore        = (*Store)(nil)
	_ storage.UserDirectory     = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retentionDays := cfg.EventRetentionDays
	if retentionDays <= 0 {
		retentionDays = DefaultEventRetentionDays
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:             client,
		prefix:             prefix,
		logger:             logger,
		eventRetentionDays: retentionDays,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key Helpers
// ============================================================

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// refreshKey returns the key for a refresh token record: {prefix}refresh:{digest}
func (s *Store) refreshKey(digest string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, digest)
}

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// userKey returns the key for a user directory entry: {prefix}user:{userID}
func (s *Store) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

// userClientKey returns the key for the digest set used in bulk
// revocation: {prefix}userclient:{userID}:{clientID}
func (s *Store) userClientKey(userID, clientID string) string {
	return fmt.Sprintf("%suserclient:%s:%s", s.prefix, userID, clientID)
}

// eventKey returns the key for an audit event: {prefix}event:{eventID}
func (s *Store) eventKey(eventID string) string {
	return fmt.Sprintf("%sevent:%s", s.prefix, eventID)
}

// failedLoginsKey returns the key for the global failed-login index
func (s *Store) failedLoginsKey() string {
	return fmt.Sprintf("%sevents:failed", s.prefix)
}

// userFailedLoginsKey returns the key for a user's failed-login index
func (s *Store) userFailedLoginsKey(userID string) string {
	return fmt.Sprintf("%sevents:failed:user:%s", s.prefix, userID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Lua scripts execute atomically in Valkey, which is what makes the
// single-use guarantees hold when multiple server instances redeem
// against the same backend.

// luaAtomicConsumeCode atomically checks that an authorization code is
// unused and unexpired and marks it used. Only ONE concurrent caller can
// get the success path; every other attempt sees ALREADY_USED.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = clock skew grace period in seconds
//
// Returns:
//   - Original JSON data (pre-marking) on success
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if the code's TTL has elapsed beyond the grace period
//   - "ALREADY_USED" if the code was already redeemed
const luaAtomicConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local grace = tonumber(ARGV[2])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt + grace then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED'
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// luaAtomicConsumeRefresh atomically retrieves an active refresh token
// record and marks it revoked. The record is kept (with KEEPTTL) rather
// than deleted, so a replay of the rotated token is recognized as REVOKED
// for as long as the original TTL runs. That distinction is what drives
// reuse detection upstream.
//
// KEYS[1] = refresh token key
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = clock skew grace period in seconds
//
// Returns:
//   - Original JSON data (pre-revocation) on success
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if the record's TTL has elapsed beyond the grace period
//   - "REVOKED" if the record was already revoked or rotated away
const luaAtomicConsumeRefresh = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

if token.revoked then
    return 'REVOKED'
end

local now = tonumber(ARGV[1])
local grace = tonumber(ARGV[2])
local expiresAt = tonumber(token.expires_at)
if expiresAt and now > expiresAt + grace then
    return 'EXPIRED'
end

token.revoked = true
token.revoked_at = now
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')

return data
`

// luaRevokeRefresh marks a refresh token record revoked if it exists and
// is not already revoked. Returns 1 when a live record was revoked, 0
// otherwise.
//
// KEYS[1] = refresh token key
// ARGV[1] = current Unix timestamp in seconds
const luaRevokeRefresh = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 0
end

local token = cjson.decode(data)
if token.revoked then
    return 0
end

token.revoked = true
token.revoked_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')

return 1
`

// ============================================================
// JSON Serialization
// ============================================================

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	UserID              string `json:"user_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	State               string `json:"state,omitempty"`
	AuthTime            int64  `json:"auth_time"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Used                bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		Nonce:               code.Nonce,
		State:               code.State,
		AuthTime:            code.AuthTime.Unix(),
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Used:                code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		Nonce:               j.Nonce,
		State:               j.State,
		AuthTime:            time.Unix(j.AuthTime, 0),
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                j.Used,
	}
}

// refreshTokenJSON is the JSON representation of a refresh token record
type refreshTokenJSON struct {
	Digest    string `json:"digest"`
	UserID    string `json:"user_id"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
	RevokedAt int64  `json:"revoked_at,omitempty"`
}

func toRefreshTokenJSON(token *storage.RefreshToken) *refreshTokenJSON {
	j := &refreshTokenJSON{
		Digest:    token.Digest,
		UserID:    token.UserID,
		ClientID:  token.ClientID,
		Scope:     token.Scope,
		CreatedAt: token.CreatedAt.Unix(),
		ExpiresAt: token.ExpiresAt.Unix(),
		Revoked:   token.Revoked,
	}
	if !token.RevokedAt.IsZero() {
		j.RevokedAt = token.RevokedAt.Unix()
	}
	return j
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	if j == nil {
		return nil
	}
	token := &storage.RefreshToken{
		Digest:    j.Digest,
		UserID:    j.UserID,
		ClientID:  j.ClientID,
		Scope:     j.Scope,
		CreatedAt: time.Unix(j.CreatedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
		Revoked:   j.Revoked,
	}
	if j.RevokedAt > 0 {
		token.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return token
}

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	ClientType       string   `json:"client_type"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scopes           []string `json:"scopes,omitempty"`
	ClientName       string   `json:"client_name,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         client.ClientID,
		ClientSecretHash: client.ClientSecretHash,
		ClientType:       client.ClientType,
		RedirectURIs:     client.RedirectURIs,
		Scopes:           client.Scopes,
		ClientName:       client.ClientName,
		CreatedAt:        client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		ClientType:       j.ClientType,
		RedirectURIs:     j.RedirectURIs,
		Scopes:           j.Scopes,
		ClientName:       j.ClientName,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// userJSON is the JSON representation of a user directory entry
type userJSON struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

func toUserJSON(user *storage.User) *userJSON {
	return &userJSON{
		ID:            user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Name:          user.Name,
		GivenName:     user.GivenName,
		FamilyName:    user.FamilyName,
		Picture:       user.Picture,
		Locale:        user.Locale,
	}
}

func fromUserJSON(j *userJSON) *storage.User {
	if j == nil {
		return nil
	}
	return &storage.User{
		ID:            j.ID,
		Email:         j.Email,
		EmailVerified: j.EmailVerified,
		Name:          j.Name,
		GivenName:     j.GivenName,
		FamilyName:    j.FamilyName,
		Picture:       j.Picture,
		Locale:        j.Locale,
	}
}

// securityEventJSON is the JSON representation of an audit event
type securityEventJSON struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	UserID           string         `json:"user_id,omitempty"`
	ClientID         string         `json:"client_id,omitempty"`
	IPAddress        string         `json:"ip_address,omitempty"`
	UserAgent        string         `json:"user_agent,omitempty"`
	Success          bool           `json:"success"`
	ErrorCode        string         `json:"error_code,omitempty"`
	ErrorDescription string         `json:"error_description,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        int64          `json:"timestamp"`
}

func toSecurityEventJSON(event *storage.SecurityEvent) *securityEventJSON {
	return &securityEventJSON{
		ID:               event.ID,
		Type:             event.Type,
		UserID:           event.UserID,
		ClientID:         event.ClientID,
		IPAddress:        event.IPAddress,
		UserAgent:        event.UserAgent,
		Success:          event.Success,
		ErrorCode:        event.ErrorCode,
		ErrorDescription: event.ErrorDescription,
		Metadata:         event.Metadata,
		Timestamp:        event.Timestamp.Unix(),
	}
}

// ============================================================
// Helpers
// ============================================================

// getAndUnmarshal fetches a key, unmarshals the JSON data, and converts
// it to the target type.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// isNilError checks if the error indicates a nil/not-found result from
// Valkey, using the library's built-in nil detection.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// validateIDLength rejects oversized identifiers before they become key
// names
func validateIDLength(value, fieldName string) error {
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, MaxIDLength)
	}
	return nil
}

// calculateTTL returns the TTL for a key with the clock skew grace
// period added, so Valkey does not reap a record the grace period still
// considers live. Returns 0 if already past.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + security.DefaultClockSkewGracePeriod
	if ttl <= 0 {
		return 0
	}
	return ttl
}
