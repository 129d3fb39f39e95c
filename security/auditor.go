package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taskhaven/authcore/storage"
)

const (
	// DefaultAccountLockoutThreshold is the number of failed logins within
	// the lockout window that locks an account.
	DefaultAccountLockoutThreshold = 5

	// DefaultAccountLockoutWindow is the trailing window over which failed
	// logins count toward account lockout.
	DefaultAccountLockoutWindow = time.Hour

	// suspiciousActivityWindow is the trailing window summarized by
	// SuspiciousActivity.
	suspiciousActivityWindow = 24 * time.Hour
)

// Auditor records authentication-relevant events durably and derives
// account lockout state from the persisted trail. Recording is
// best-effort: a storage failure never aborts the operation being
// audited, but is counted and logged so operators can diagnose it.
type Auditor struct {
	store    storage.EventStore
	ips      *IPTracker
	logger   *slog.Logger
	flood    *EventRateLimiter
	lockouts LockoutRecorder
	dropped  atomic.Int64

	accountThreshold int
	accountWindow    time.Duration
}

// LockoutRecorder receives lockout signals for metrics. Satisfied by
// instrumentation.Metrics.
type LockoutRecorder interface {
	RecordLockout(ctx context.Context, kind string)
}

// Event represents a security audit event before persistence. The
// Auditor assigns the ID and timestamp.
type Event struct {
	Type             string
	UserID           string
	ClientID         string
	IPAddress        string
	UserAgent        string
	Success          bool
	ErrorCode        string
	ErrorDescription string
	Metadata         map[string]any
}

// NewAuditor creates an auditor over the given event store. The IP
// tracker and logger may be nil; defaults are applied.
func NewAuditor(store storage.EventStore, ips *IPTracker, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	if ips == nil {
		ips = NewIPTracker(0, 0, 0)
	}
	return &Auditor{
		store:            store,
		ips:              ips,
		logger:           logger,
		accountThreshold: DefaultAccountLockoutThreshold,
		accountWindow:    DefaultAccountLockoutWindow,
	}
}

// SetFloodLimiter installs a rate limiter for event persistence. When a
// limiter is set, events for an identifier over its budget are dropped
// (and counted) instead of flooding the trail.
func (a *Auditor) SetFloodLimiter(rl *EventRateLimiter) {
	a.flood = rl
}

// SetAccountLockoutPolicy overrides the failed-login threshold and window.
func (a *Auditor) SetAccountLockoutPolicy(threshold int, window time.Duration) {
	if threshold > 0 {
		a.accountThreshold = threshold
	}
	if window > 0 {
		a.accountWindow = window
	}
}

// SetIPTracker replaces the in-process IP failure tracker. The server
// calls this when an auditor is attached, so the tracker built from the
// configured lockout policy is the one counting failures. Nil is ignored.
func (a *Auditor) SetIPTracker(tracker *IPTracker) {
	if tracker != nil {
		a.ips = tracker
	}
}

// SetLockoutRecorder installs a metrics sink for lockout trips.
func (a *Auditor) SetLockoutRecorder(rec LockoutRecorder) {
	a.lockouts = rec
}

// Log appends a security event to the audit trail. A persistence failure
// is swallowed after incrementing the dropped-events counter; the audited
// operation proceeds regardless. A successful event clears the per-IP
// failure counter for the event's source address.
func (a *Auditor) Log(ctx context.Context, event Event) {
	if event.Success && event.IPAddress != "" {
		a.ips.ClearFailedAttempts(event.IPAddress)
	}
	if !event.Success && event.Type == EventLoginFailed && event.IPAddress != "" {
		if tripped := a.ips.TrackFailedAttempt(event.IPAddress); tripped && a.lockouts != nil {
			a.lockouts.RecordLockout(ctx, "ip")
		}
	}

	if a.flood != nil && !a.flood.Allow(event.IPAddress+":"+event.Type) {
		a.dropped.Add(1)
		return
	}

	record := &storage.SecurityEvent{
		ID:               uuid.NewString(),
		Type:             event.Type,
		UserID:           event.UserID,
		ClientID:         event.ClientID,
		IPAddress:        event.IPAddress,
		UserAgent:        event.UserAgent,
		Success:          event.Success,
		ErrorCode:        event.ErrorCode,
		ErrorDescription: event.ErrorDescription,
		Metadata:         event.Metadata,
		Timestamp:        time.Now(),
	}

	if a.store != nil {
		if err := a.store.AppendSecurityEvent(ctx, record); err != nil {
			a.dropped.Add(1)
			a.logger.Warn("Failed to persist security event",
				"event_type", event.Type,
				"error", err,
				"dropped_total", a.dropped.Load())
		}
	}

	a.logger.Info("security_audit",
		"event_type", record.Type,
		"user_id_hash", hashForLogging(record.UserID),
		"client_id", record.ClientID,
		"ip_address", record.IPAddress,
		"success", record.Success,
		"error_code", record.ErrorCode,
	)
}

// DroppedEvents returns the number of events that could not be persisted
// since process start. Exposed for diagnostics per the best-effort
// logging contract.
func (a *Auditor) DroppedEvents() int64 {
	return a.dropped.Load()
}

// IsAccountLocked reports whether the user's persisted failed logins in
// the trailing lockout window meet the threshold. A store failure fails
// open (returns false) so an audit-trail outage cannot lock out every
// account at once; the failure is logged.
func (a *Auditor) IsAccountLocked(ctx context.Context, userID string) bool {
	if a.store == nil || userID == "" {
		return false
	}
	count, err := a.store.CountFailedLogins(ctx, userID, time.Now().Add(-a.accountWindow))
	if err != nil {
		a.logger.Warn("Failed to query failed logins for lockout check",
			"user_id_hash", hashForLogging(userID),
			"error", err)
		return false
	}
	locked := count >= a.accountThreshold
	if locked && a.lockouts != nil {
		// Account lockout state lives in the event store, so each refused
		// check is the observable trip.
		a.lockouts.RecordLockout(ctx, "account")
	}
	return locked
}

// IsIPLocked reports whether the address has hit the in-process failure
// threshold within the lockout window.
func (a *Auditor) IsIPLocked(ip string) bool {
	return a.ips.IsLocked(ip)
}

// TrackFailedAttempt records a failed attempt against the address.
func (a *Auditor) TrackFailedAttempt(ip string) {
	if tripped := a.ips.TrackFailedAttempt(ip); tripped && a.lockouts != nil {
		a.lockouts.RecordLockout(context.Background(), "ip")
	}
}

// ClearFailedAttempts resets the failure counter for the address.
func (a *Auditor) ClearFailedAttempts(ip string) {
	a.ips.ClearFailedAttempts(ip)
}

// ActivitySummary describes recent suspicious activity for operators.
type ActivitySummary struct {
	// FailedLogins is the count of failed login events in the trailing 24h
	FailedLogins int

	// SuspiciousIPs lists addresses at or above the suspicion threshold
	SuspiciousIPs []string
}

// SuspiciousActivity summarizes the trailing 24 hours: persisted failed
// logins plus the addresses currently at or above the suspicion
// threshold in the in-process tracker.
func (a *Auditor) SuspiciousActivity(ctx context.Context) (*ActivitySummary, error) {
	summary := &ActivitySummary{
		SuspiciousIPs: a.ips.SuspiciousIPs(),
	}
	if a.store != nil {
		count, err := a.store.CountFailedLoginsSince(ctx, time.Now().Add(-suspiciousActivityWindow))
		if err != nil {
			return nil, err
		}
		summary.FailedLogins = count
	}
	return summary, nil
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
