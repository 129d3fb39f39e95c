// Package storage defines interfaces for persisting authorization codes,
// refresh tokens, registered clients, and security events.
// It supports various backend implementations including in-memory and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations. Callers use
// errors.Is to distinguish not-found from expired or consumed records
// without parsing error strings.
var (
	// ErrCodeNotFound indicates the authorization code does not exist
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code's TTL has elapsed
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrCodeUsed indicates the authorization code was already redeemed
	ErrCodeUsed = errors.New("authorization code already used")

	// ErrRefreshTokenNotFound indicates no refresh token matches the digest
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrRefreshTokenExpired indicates the refresh token's TTL has elapsed
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrRefreshTokenRevoked indicates the refresh token was revoked or rotated away
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")

	// ErrClientNotFound indicates the client application is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrUserNotFound indicates the user account does not exist
	ErrUserNotFound = errors.New("user not found")
)

// CodeStore manages authorization code records.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode persists a freshly issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without consuming it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicConsumeAuthorizationCode atomically checks that a code is
	// unused and unexpired and flips its used flag. Exactly one
	// concurrent caller succeeds; all others receive ErrCodeUsed,
	// ErrCodeExpired, or ErrCodeNotFound.
	//
	// SECURITY: This operation MUST be atomic with respect to concurrent
	// redemption attempts, including redemptions racing across server
	// instances when a distributed backend is used.
	AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore manages refresh token records. Records are keyed by
// a deterministic keyed-MAC digest of the opaque secret; the plaintext
// secret is never stored.
// All methods accept context.Context for tracing and cancellation.
type RefreshTokenStore interface {
	// SaveRefreshToken persists a refresh token record keyed by digest
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token record by digest
	GetRefreshToken(ctx context.Context, digest string) (*RefreshToken, error)

	// AtomicConsumeRefreshToken atomically retrieves an active refresh
	// token and marks it revoked, returning the record as it was before
	// revocation. Exactly one concurrent caller succeeds; the rotation
	// invariant (one live token per lineage) depends on it.
	//
	// SECURITY: This operation MUST be atomic to prevent concurrent
	// refresh attempts from both succeeding with the same token.
	AtomicConsumeRefreshToken(ctx context.Context, digest string) (*RefreshToken, error)

	// RevokeRefreshToken marks a refresh token revoked. Revoking an
	// unknown digest is not an error (idempotent revocation, RFC 7009).
	RevokeRefreshToken(ctx context.Context, digest string) error

	// RevokeAllForUserClient revokes every active refresh token for a
	// user+client combination (logout-everywhere, reuse response).
	// Returns the number of tokens revoked.
	RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// ClientStore exposes the OAuth application registry. The registry is
// owned elsewhere; this core only reads it.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a confidential client's secret
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// EventStore persists the append-only security audit trail and answers
// the aggregate queries the lockout logic needs.
// All methods accept context.Context for tracing and cancellation.
type EventStore interface {
	// AppendSecurityEvent appends an event to the audit trail
	AppendSecurityEvent(ctx context.Context, event *SecurityEvent) error

	// CountFailedLogins counts failed login events for a user since the
	// given time (account lockout window)
	CountFailedLogins(ctx context.Context, userID string, since time.Time) (int, error)

	// CountFailedLoginsSince counts failed login events across all users
	// since the given time (suspicious-activity summary)
	CountFailedLoginsSince(ctx context.Context, since time.Time) (int, error)
}

// UserDirectory is the consumed user/account lookup collaborator. The
// authorization core never writes user records.
type UserDirectory interface {
	// GetUser retrieves a user account by its stable identifier
	GetUser(ctx context.Context, userID string) (*User, error)
}

// Client represents a registered OAuth application
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash; empty for public clients
	ClientType       string // "public" or "confidential"
	RedirectURIs     []string
	Scopes           []string // allow-list; granted scopes are always a subset
	ClientName       string
	CreatedAt        time.Time
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string // space-joined granted scope set
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	State               string
	AuthTime            time.Time // when the resource owner authenticated
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// RefreshToken represents a stored refresh token. Only the keyed-MAC
// digest of the opaque secret is persisted; a presented token is located
// by recomputing the digest.
type RefreshToken struct {
	Digest    string
	UserID    string
	ClientID  string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt time.Time
}

// SecurityEvent is one entry in the append-only audit trail
type SecurityEvent struct {
	ID               string
	Type             string
	UserID           string
	ClientID         string
	IPAddress        string
	UserAgent        string
	Success          bool
	ErrorCode        string
	ErrorDescription string
	Metadata         map[string]any
	Timestamp        time.Time
}

// User is a read-only view of an account from the user directory
type User struct {
	// ID is the stable user identifier used as the token subject
	ID string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified
	EmailVerified bool

	// Name is the user's full name
	Name string

	// GivenName is the user's first name
	GivenName string

	// FamilyName is the user's last name
	FamilyName string

	// Picture is the URL of the user's profile picture
	Picture string

	// Locale is the user's preferred locale
	Locale string
}
