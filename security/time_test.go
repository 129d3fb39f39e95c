package security

import (
	"testing"
	"time"
)

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{
			name:      "well in the future",
			expiresAt: now.Add(time.Hour),
			grace:     5 * time.Second,
			want:      false,
		},
		{
			name:      "just expired but inside grace",
			expiresAt: now.Add(-2 * time.Second),
			grace:     5 * time.Second,
			want:      false,
		},
		{
			name:      "expired beyond grace",
			expiresAt: now.Add(-10 * time.Second),
			grace:     5 * time.Second,
			want:      true,
		},
		{
			name:      "zero grace is a hard deadline",
			expiresAt: now.Add(-time.Millisecond),
			grace:     0,
			want:      true,
		},
		{
			name:      "zero expiry never expires",
			expiresAt: time.Time{},
			grace:     5 * time.Second,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredWithGracePeriod(tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpiredWithGracePeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpired_UsesDefaultGrace(t *testing.T) {
	// One second past expiry is still within the default 5s grace.
	if IsExpired(time.Now().Add(-time.Second)) {
		t.Error("expired within default grace period")
	}
	if !IsExpired(time.Now().Add(-DefaultClockSkewGracePeriod - time.Second)) {
		t.Error("not expired beyond default grace period")
	}
}
