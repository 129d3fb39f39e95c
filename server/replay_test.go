package server

import (
	"testing"
	"time"

	"github.com/taskhaven/authcore"
)

func TestReplayCacheMissAndHit(t *testing.T) {
	c := newReplayCache(time.Minute)

	if _, _, hit := c.lookup("code-1"); hit {
		t.Error("empty cache reported a hit")
	}

	c.storeSuccess("code-1", &authcore.TokenResponse{AccessToken: "at", RefreshToken: "rt"})

	resp, cachedErr, hit := c.lookup("code-1")
	if !hit || cachedErr != nil {
		t.Fatalf("expected success hit, got hit=%v err=%v", hit, cachedErr)
	}
	if resp.AccessToken != "at" || resp.RefreshToken != "rt" {
		t.Errorf("unexpected cached response: %+v", resp)
	}
}

func TestReplayCacheReturnsCopies(t *testing.T) {
	c := newReplayCache(time.Minute)

	original := &authcore.TokenResponse{AccessToken: "at"}
	c.storeSuccess("code-1", original)

	// Mutating either the stored-from value or a returned value must not
	// change what the next duplicate receives.
	original.AccessToken = "mutated"

	first, _, _ := c.lookup("code-1")
	first.AccessToken = "also-mutated"

	second, _, _ := c.lookup("code-1")
	if second.AccessToken != "at" {
		t.Errorf("cached response leaked a mutation: %q", second.AccessToken)
	}
}

func TestReplayCacheFailures(t *testing.T) {
	c := newReplayCache(time.Minute)

	c.storeFailure("code-1", authcore.ErrInvalidGrant("invalid grant"))

	resp, cachedErr, hit := c.lookup("code-1")
	if !hit || resp != nil {
		t.Fatalf("expected failure hit, got hit=%v resp=%v", hit, resp)
	}
	if cachedErr == nil || cachedErr.Code != authcore.ErrorCodeInvalidGrant {
		t.Errorf("unexpected cached error: %v", cachedErr)
	}
}

func TestReplayCacheExpiry(t *testing.T) {
	c := newReplayCache(30 * time.Millisecond)

	c.storeSuccess("code-1", &authcore.TokenResponse{AccessToken: "at"})
	time.Sleep(50 * time.Millisecond)

	if _, _, hit := c.lookup("code-1"); hit {
		t.Error("expired entry reported a hit")
	}

	c.mu.Lock()
	_, stillThere := c.entries["code-1"]
	c.mu.Unlock()
	if stillThere {
		t.Error("expired entry not removed on lookup")
	}
}

func TestReplayCacheSweepOnWrite(t *testing.T) {
	c := newReplayCache(30 * time.Millisecond)

	c.storeSuccess("old-1", &authcore.TokenResponse{AccessToken: "a"})
	c.storeSuccess("old-2", &authcore.TokenResponse{AccessToken: "b"})
	time.Sleep(50 * time.Millisecond)

	c.storeSuccess("new", &authcore.TokenResponse{AccessToken: "c"})

	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	if size != 1 {
		t.Errorf("expected sweep on write to leave 1 entry, got %d", size)
	}
}
