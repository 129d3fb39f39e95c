package server

import (
	"sync"
	"time"

	"github.com/taskhaven/authcore"
)

// replayCache remembers the first token-exchange outcome per
// authorization code for a short TTL. A client whose request timed out
// after the code was consumed can resubmit and receive the identical
// response; a code that already failed short-circuits to the same error
// instead of being re-derived.
//
// This is the only mechanism reconciling exactly-once redemption with
// idempotent-on-retry semantics, so entries must be written in the same
// logical operation as code consumption and token issuance.
type replayCache struct {
	mu      sync.Mutex
	entries map[string]*replayEntry
	ttl     time.Duration
}

type replayEntry struct {
	response  *authcore.TokenResponse
	failure   *authcore.Error
	expiresAt time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		entries: make(map[string]*replayEntry),
		ttl:     ttl,
	}
}

// lookup returns the cached outcome for a code, if any. Expired entries
// read as misses and are removed.
func (c *replayCache) lookup(code string) (*authcore.TokenResponse, *authcore.Error, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[code]
	if !ok {
		return nil, nil, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, code)
		return nil, nil, false
	}
	if entry.response != nil {
		// Copy so a caller mutating the response cannot change what the
		// next duplicate receives.
		resp := *entry.response
		return &resp, nil, true
	}
	return nil, entry.failure, true
}

// storeSuccess caches the first successful exchange response for a code.
func (c *replayCache) storeSuccess(code string, resp *authcore.TokenResponse) {
	cached := *resp
	c.store(code, &replayEntry{response: &cached})
}

// storeFailure caches a failed exchange outcome so repeated attempts with
// the same code get the same error without re-deriving it.
func (c *replayCache) storeFailure(code string, oauthErr *authcore.Error) {
	c.store(code, &replayEntry{failure: oauthErr})
}

func (c *replayCache) store(code string, entry *replayEntry) {
	now := time.Now()
	entry.expiresAt = now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic sweep: writes are rare enough that a full scan on
	// each one keeps the map bounded without a background goroutine.
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	c.entries[code] = entry
}
