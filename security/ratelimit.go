package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EventRateLimiter provides per-identifier rate limiting using a token
// bucket per identifier. It caps how often repeated security events for
// the same source are persisted, so an attacker replaying the same
// failing request cannot flood the audit trail.
//
// Idle limiters are swept to keep memory bounded.
type EventRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry

	rate  rate.Limit
	burst int

	maxEntries int
	logger     *slog.Logger

	sweepEvery time.Duration
	lastSweep  time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewEventRateLimiter creates a limiter allowing eventsPerSecond with
// the given burst per identifier. maxEntries bounds the number of
// tracked identifiers; 0 selects the default of 10,000.
func NewEventRateLimiter(eventsPerSecond float64, burst, maxEntries int, logger *slog.Logger) *EventRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &EventRateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       rate.Limit(eventsPerSecond),
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
		sweepEvery: 5 * time.Minute,
		lastSweep:  time.Now(),
	}
}

// Allow reports whether an event for the identifier is within budget.
// Sweeping of idle entries piggybacks on calls instead of a background
// goroutine, so the limiter needs no Stop.
func (rl *EventRateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > rl.sweepEvery {
		rl.sweepLocked(now)
	}

	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			// At capacity: drop the stalest entry so new identifiers
			// are still tracked.
			rl.evictOldestLocked()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[identifier] = entry
	}
	entry.lastAccess = now

	return entry.limiter.Allow()
}

// sweepLocked removes limiters idle longer than 30 minutes.
func (rl *EventRateLimiter) sweepLocked(now time.Time) {
	removed := 0
	for id, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > 30*time.Minute {
			delete(rl.limiters, id)
			removed++
		}
	}
	rl.lastSweep = now
	if removed > 0 {
		rl.logger.Debug("Swept idle event rate limiters",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

func (rl *EventRateLimiter) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range rl.limiters {
		if oldestID == "" || entry.lastAccess.Before(oldest) {
			oldestID = id
			oldest = entry.lastAccess
		}
	}
	if oldestID != "" {
		delete(rl.limiters, oldestID)
	}
}
