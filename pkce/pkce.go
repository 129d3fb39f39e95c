// Package pkce implements the PKCE (RFC 7636) verifier/challenge helpers
// used to bind authorization codes to the client that requested them.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Code challenge methods (RFC 7636 Section 4.2)
const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// Verifier length bounds (RFC 7636 Section 4.1)
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// verifierAlphabet is the unreserved character set allowed in a
// code_verifier: [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GenerateVerifier returns a cryptographically random code_verifier with
// a length chosen uniformly in [43,128], drawn from the RFC 7636
// unreserved character set.
func GenerateVerifier() (string, error) {
	span := big.NewInt(int64(MaxVerifierLength - MinVerifierLength + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("failed to choose verifier length: %w", err)
	}
	length := MinVerifierLength + int(n.Int64())

	alphabetSize := big.NewInt(int64(len(verifierAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate verifier: %w", err)
		}
		buf[i] = verifierAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// Challenge derives the code_challenge for a verifier using the given
// method: "plain" is the identity transform, "S256" is the unpadded
// base64url encoding of the SHA-256 digest. Any other method is an error.
func Challenge(verifier, method string) (string, error) {
	switch method {
	case MethodPlain:
		return verifier, nil
	case MethodS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// Verify reports whether the verifier satisfies the recorded challenge
// under the given method. It never panics and never returns an error:
// empty inputs and unsupported methods simply verify as false. The
// comparison is constant-time to prevent timing side channels.
func Verify(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	computed, err := Challenge(verifier, method)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidVerifierFormat reports whether a presented code_verifier satisfies
// the RFC 7636 length and character-set constraints. Redemption rejects
// malformed verifiers before hashing them.
func ValidVerifierFormat(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return false
		}
	}
	return true
}
