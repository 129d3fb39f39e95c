// Package keys owns the process signing key material. It generates one
// RSA-2048 key pair at startup, exposes a signer to the token issuer,
// and publishes the public half as a JWKS document for resource servers.
// Private key material never leaves this package.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// rsaKeySize is the modulus size for generated signing keys.
const rsaKeySize = 2048

// Manager holds the current signing key and an optional next key staged
// for rotation. Only the current key signs; both appear in the JWKS so
// verifiers can pick by kid once a rotation lands. The current key is
// immutable after construction; the staged key may be written while the
// JWKS and verification paths read it, so access goes through the lock.
type Manager struct {
	current signingKey

	mu   sync.RWMutex
	next *signingKey
}

type signingKey struct {
	kid string
	key *rsa.PrivateKey
}

// NewManager generates a fresh RSA-2048 signing key. If kid is empty a
// random key id is generated.
func NewManager(kid string) (*Manager, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if kid == "" {
		kid = uuid.NewString()
	}
	return &Manager{current: signingKey{kid: kid, key: key}}, nil
}

// KeyID returns the current signing key's id, carried in token headers
// so verifiers can pick the right public key.
func (m *Manager) KeyID() string {
	return m.current.kid
}

// Algorithm returns the signing algorithm name for discovery documents.
func (m *Manager) Algorithm() string {
	return string(jose.RS256)
}

// Signer returns a JWS signer over the current key. The signer embeds
// the kid header and the JWT type header.
func (m *Manager) Signer() (jose.Signer, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", m.current.kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: m.current.key}, opts)
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	return signer, nil
}

// PublicKey returns the public half of the key identified by kid, or the
// current key's public half when kid is empty. Returns nil for an
// unknown kid.
func (m *Manager) PublicKey(kid string) *rsa.PublicKey {
	if kid == "" || kid == m.current.kid {
		return &m.current.key.PublicKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.next != nil && kid == m.next.kid {
		return &m.next.key.PublicKey
	}
	return nil
}

// StageNextKey generates and stages a successor key. The staged key is
// published in the JWKS ahead of use so caches warm before rotation.
func (m *Manager) StageNextKey(kid string) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate next signing key: %w", err)
	}
	if kid == "" {
		kid = uuid.NewString()
	}
	m.mu.Lock()
	m.next = &signingKey{kid: kid, key: key}
	m.mu.Unlock()
	return nil
}

// JWKS returns the public key set document. Marshaling a jose key set
// yields the standard {keys:[{kty,use,alg,kid,n,e}]} shape with n and e
// as unsigned big-endian base64url integers.
func (m *Manager) JWKS() jose.JSONWebKeySet {
	keys := []jose.JSONWebKey{m.publicJWK(m.current)}
	m.mu.RLock()
	if m.next != nil {
		keys = append(keys, m.publicJWK(*m.next))
	}
	m.mu.RUnlock()
	return jose.JSONWebKeySet{Keys: keys}
}

func (m *Manager) publicJWK(sk signingKey) jose.JSONWebKey {
	jwk := jose.JSONWebKey{
		KeyID:     sk.kid,
		Use:       "sig",
		Algorithm: string(jose.RS256),
		Key:       sk.key,
	}
	return jwk.Public()
}
