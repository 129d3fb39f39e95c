package server

import (
	"log/slog"
)

// Config holds authorization core configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It becomes
	// the iss claim of every signed token. Required.
	Issuer string

	// RefreshTokenHMACKey keys the deterministic MAC under which refresh
	// token secrets are stored and looked up. Must be at least 32 bytes
	// and shared by every instance serving the same token population.
	// Required.
	RefreshTokenHMACKey []byte

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 900 (15 minutes)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// ReplayCacheTTL is how long the first token-exchange outcome for a
	// code is kept so duplicate submissions get the identical response
	ReplayCacheTTL int64 // seconds, default: 60

	// ClockSkewGracePeriod is the grace period for the server's token
	// expiry checks (in seconds). This prevents false expiration errors
	// due to time synchronization issues. Storage backends apply their
	// own fixed grace to stored-record expiry.
	ClockSkewGracePeriod int64 // seconds, default: 5

	// DefaultScope is granted when an authorization request carries no
	// scope parameter
	DefaultScope string // default: "openid"

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	// When false, the direct connection IP is used (secure by default)
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to pick the client entry out of
	// X-Forwarded-For
	TrustedProxyCount int // default: 1

	// IPLockoutThreshold is the failed-attempt count that locks an IP
	IPLockoutThreshold int // default: 5

	// IPLockoutWindow is how long failures count toward IP lockout
	IPLockoutWindow int64 // seconds, default: 1800 (30 minutes)

	// AccountLockoutThreshold is the failed-login count that locks an account
	AccountLockoutThreshold int // default: 5

	// AccountLockoutWindow is the trailing window for account lockout
	AccountLockoutWindow int64 // seconds, default: 3600 (1 hour)
}

// applySecureDefaults fills unset configuration values with the secure
// defaults and warns about settings that weaken the deployment.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)

	if config.DefaultScope == "" {
		config.DefaultScope = "openid"
	}

	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP extraction",
			"risk", "IP spoofing if the proxy chain is misconfigured",
			"trusted_proxy_count", config.TrustedProxyCount)
	}

	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 900 // 15 minutes
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.ReplayCacheTTL == 0 {
		config.ReplayCacheTTL = 60
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.IPLockoutThreshold == 0 {
		config.IPLockoutThreshold = 5
	}
	if config.IPLockoutWindow == 0 {
		config.IPLockoutWindow = 1800 // 30 minutes
	}
	if config.AccountLockoutThreshold == 0 {
		config.AccountLockoutThreshold = 5
	}
	if config.AccountLockoutWindow == 0 {
		config.AccountLockoutWindow = 3600 // 1 hour
	}
}
