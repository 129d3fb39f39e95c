package security

import (
	"sync"
	"time"
)

const (
	// DefaultIPLockoutThreshold is the failed-attempt count that locks an address.
	DefaultIPLockoutThreshold = 5

	// DefaultIPLockoutWindow is how long failures count toward IP lockout.
	DefaultIPLockoutWindow = 30 * time.Minute

	// DefaultSuspicionThreshold is the failure count at which an address
	// appears in the suspicious-activity summary without being locked yet.
	DefaultSuspicionThreshold = 3
)

// IPTracker is an in-process, concurrency-safe failure counter per
// source address. Counters expire lazily: an entry whose last failure is
// older than the window is treated as reset on the next read or write.
//
// Undercounting here enables lockout bypass and overcounting causes
// spurious denial of service, so every mutation happens under the lock.
type IPTracker struct {
	mu      sync.Mutex
	entries map[string]*ipEntry

	threshold          int
	window             time.Duration
	suspicionThreshold int
}

type ipEntry struct {
	count       int
	lastFailure time.Time
}

// NewIPTracker creates a tracker. Zero values select the defaults.
func NewIPTracker(threshold int, window time.Duration, suspicionThreshold int) *IPTracker {
	if threshold <= 0 {
		threshold = DefaultIPLockoutThreshold
	}
	if window <= 0 {
		window = DefaultIPLockoutWindow
	}
	if suspicionThreshold <= 0 {
		suspicionThreshold = DefaultSuspicionThreshold
	}
	return &IPTracker{
		entries:            make(map[string]*ipEntry),
		threshold:          threshold,
		window:             window,
		suspicionThreshold: suspicionThreshold,
	}
}

// TrackFailedAttempt atomically increments the failure counter for the
// address, restarting the count when the previous failures fell outside
// the window. It reports whether this failure crossed the lockout
// threshold, so callers can count lockout trips exactly once.
func (t *IPTracker) TrackFailedAttempt(ip string) bool {
	if ip == "" {
		return false
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ip]
	if !ok || now.Sub(entry.lastFailure) > t.window {
		t.entries[ip] = &ipEntry{count: 1, lastFailure: now}
		return t.threshold == 1
	}
	entry.count++
	entry.lastFailure = now
	return entry.count == t.threshold
}

// ClearFailedAttempts removes the counter for the address. Called on any
// successful authentication from that address.
func (t *IPTracker) ClearFailedAttempts(ip string) {
	if ip == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, ip)
}

// IsLocked reports whether the address has reached the lockout threshold
// within the window. A stale counter is dropped, not counted.
func (t *IPTracker) IsLocked(ip string) bool {
	if ip == "" {
		return false
	}
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ip]
	if !ok {
		return false
	}
	if now.Sub(entry.lastFailure) > t.window {
		delete(t.entries, ip)
		return false
	}
	return entry.count >= t.threshold
}

// FailureCount returns the current in-window failure count for the
// address. Stale counters read as zero.
func (t *IPTracker) FailureCount(ip string) int {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ip]
	if !ok || now.Sub(entry.lastFailure) > t.window {
		return 0
	}
	return entry.count
}

// SuspiciousIPs returns the addresses at or above the suspicion
// threshold within the window. Stale entries are swept while scanning.
func (t *IPTracker) SuspiciousIPs() []string {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	ips := make([]string, 0)
	for ip, entry := range t.entries {
		if now.Sub(entry.lastFailure) > t.window {
			delete(t.entries, ip)
			continue
		}
		if entry.count >= t.suspicionThreshold {
			ips = append(ips, ip)
		}
	}
	return ips
}
