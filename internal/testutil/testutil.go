// Package testutil provides helpers shared by the library's tests.
package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// NewPKCEPair generates a random code verifier and its S256 challenge.
func NewPKCEPair(tb testing.TB) (verifier, challenge string) {
	tb.Helper()
	verifier = oauth2.GenerateVerifier()
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// HashSecret returns a bcrypt hash of secret for seeding test clients.
// MinCost keeps test runs fast.
func HashSecret(tb testing.TB, secret string) string {
	tb.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		tb.Fatalf("bcrypt hash: %v", err)
	}
	return string(hash)
}

// DiscardLogger returns a logger that drops everything, keeping test
// output readable.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
