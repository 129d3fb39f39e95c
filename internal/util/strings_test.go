package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"shorter than max", "short", 10, "short"},
		{"exactly max", "12345678", 8, "12345678"},
		{"longer than max", "very-long-token-abc123", 8, "very-lon"},
		{"zero max", "anything", 0, ""},
		{"negative max", "anything", -1, ""},
		{"empty input", "", 8, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}
