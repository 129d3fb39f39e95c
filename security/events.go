package security

// Event type constants for the security audit trail.
// These constants ensure consistency across the codebase and prevent
// typos when logging security-relevant events.
const (
	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "AUTHORIZATION_CODE_ISSUED"

	// EventAuthorizationCodeUsed is logged when an authorization code is redeemed
	EventAuthorizationCodeUsed = "AUTHORIZATION_CODE_USED"

	// EventAuthorizationCodeExpired is logged when redemption fails because the
	// code is missing, expired, already used, or bound to different parameters.
	// One event type covers all of these so the audit trail mirrors the uniform
	// error the caller sees.
	EventAuthorizationCodeExpired = "AUTHORIZATION_CODE_EXPIRED"

	// Token lifecycle events

	// EventTokenIssued is logged when an access token is issued
	EventTokenIssued = "TOKEN_ISSUED"

	// EventTokenRefreshed is logged when a refresh grant rotates a token pair
	EventTokenRefreshed = "TOKEN_REFRESHED"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "TOKEN_REVOKED" //nolint:gosec // G101: event type name, not a credential

	// EventRefreshTokenReuse is logged when a revoked or rotated refresh token
	// is presented again
	EventRefreshTokenReuse = "REFRESH_TOKEN_REUSE" //nolint:gosec // G101: event type name, not a credential

	// Login and lockout events

	// EventLoginFailed is logged when resource-owner authentication fails;
	// the account and IP lockout counters are derived from these
	EventLoginFailed = "LOGIN_FAILED"

	// EventLoginSucceeded is logged when resource-owner authentication succeeds
	EventLoginSucceeded = "LOGIN_SUCCEEDED"

	// EventAccountLocked is logged when the per-account failure threshold trips
	EventAccountLocked = "ACCOUNT_LOCKED"

	// EventIPLocked is logged when the per-IP failure threshold trips
	EventIPLocked = "IP_LOCKED"

	// Security violation events

	// EventPKCEFailed is logged when PKCE verification fails at redemption
	EventPKCEFailed = "PKCE_VERIFICATION_FAILED"

	// EventValidationFailed is logged when an authorization request is rejected
	EventValidationFailed = "AUTHORIZATION_VALIDATION_FAILED"

	// EventReplayServed is logged when the replay guard answers a duplicate
	// token exchange from cache
	EventReplayServed = "REPLAY_CACHE_SERVED"
)
