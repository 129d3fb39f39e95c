package security

import "time"

// DefaultClockSkewGracePeriod is the grace period applied to expiry
// checks. It prevents false expiration errors when the clocks of the
// issuing instance, the storage backend, and the client drift by a few
// seconds; 5s comfortably covers typical NTP drift.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks expiry with the default clock skew grace period
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks expiry with a custom grace period. A
// zero expiry means no expiration.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
