package keys

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func TestNewManager(t *testing.T) {
	m, err := NewManager("test-key-1")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if m.KeyID() != "test-key-1" {
		t.Errorf("KeyID() = %q, want %q", m.KeyID(), "test-key-1")
	}
	if m.Algorithm() != "RS256" {
		t.Errorf("Algorithm() = %q, want RS256", m.Algorithm())
	}
}

func TestNewManager_GeneratedKeyID(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.KeyID() == "" {
		t.Error("KeyID() is empty, want a generated key id")
	}
}

func TestManager_SignAndVerify(t *testing.T) {
	m, err := NewManager("sign-test")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	signer, err := m.Signer()
	if err != nil {
		t.Fatalf("Signer() error = %v", err)
	}

	claims := jwt.Claims{Subject: "user-1", Issuer: "https://auth.example.com"}
	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("sign claims: %v", err)
	}

	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("ParseSigned() error = %v", err)
	}

	// Header must carry the kid so verifiers can pick the right key
	if got := parsed.Headers[0].KeyID; got != "sign-test" {
		t.Errorf("token kid = %q, want %q", got, "sign-test")
	}

	var out jwt.Claims
	if err := parsed.Claims(m.PublicKey(""), &out); err != nil {
		t.Fatalf("verify claims with public key: %v", err)
	}
	if out.Subject != "user-1" {
		t.Errorf("subject = %q, want %q", out.Subject, "user-1")
	}
}

func TestManager_PublicKeyByKID(t *testing.T) {
	m, err := NewManager("current")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if m.PublicKey("current") == nil {
		t.Error("PublicKey(current) = nil, want current public key")
	}
	if m.PublicKey("unknown") != nil {
		t.Error("PublicKey(unknown) != nil, want nil")
	}

	if err := m.StageNextKey("next"); err != nil {
		t.Fatalf("StageNextKey() error = %v", err)
	}
	if m.PublicKey("next") == nil {
		t.Error("PublicKey(next) = nil after staging, want staged public key")
	}
}

func TestManager_JWKS(t *testing.T) {
	m, err := NewManager("jwks-test")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	set := m.JWKS()
	if len(set.Keys) != 1 {
		t.Fatalf("len(JWKS().Keys) = %d, want 1", len(set.Keys))
	}

	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal JWKS: %v", err)
	}

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal JWKS: %v", err)
	}

	key := doc.Keys[0]
	want := map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": "jwks-test",
	}
	for field, expected := range want {
		if got, _ := key[field].(string); got != expected {
			t.Errorf("JWKS key %s = %q, want %q", field, got, expected)
		}
	}

	// Modulus and exponent must be present as base64url strings
	for _, field := range []string{"n", "e"} {
		if got, _ := key[field].(string); got == "" {
			t.Errorf("JWKS key missing %s component", field)
		}
	}

	// Private material must never appear in the published document
	for _, private := range []string{"d", "p", "q"} {
		if _, leaked := key[private]; leaked {
			t.Errorf("JWKS key leaked private component %q", private)
		}
	}
}

func TestManager_JWKSIncludesStagedKey(t *testing.T) {
	m, err := NewManager("current")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := m.StageNextKey("next"); err != nil {
		t.Fatalf("StageNextKey() error = %v", err)
	}

	set := m.JWKS()
	if len(set.Keys) != 2 {
		t.Fatalf("len(JWKS().Keys) = %d, want 2", len(set.Keys))
	}
	kids := map[string]bool{}
	for _, k := range set.Keys {
		kids[k.KeyID] = true
	}
	if !kids["current"] || !kids["next"] {
		t.Errorf("JWKS kids = %v, want current and next", kids)
	}
}

func TestManager_ConcurrentStagingAndReads(t *testing.T) {
	m, err := NewManager("primary")
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, kid := range []string{"next-a", "next-b"} {
			if err := m.StageNextKey(kid); err != nil {
				t.Errorf("StageNextKey(%q) error = %v", kid, err)
			}
		}
	}()

	// Readers race the staging goroutine over the staged-key slot.
	for i := 0; i < 200; i++ {
		m.JWKS()
		m.PublicKey("primary")
		m.PublicKey("next-a")
	}
	wg.Wait()

	jwks := m.JWKS()
	if len(jwks.Keys) != 2 {
		t.Fatalf("JWKS has %d keys, want current plus staged", len(jwks.Keys))
	}
	if m.PublicKey("next-b") == nil {
		t.Error("staged key not resolvable by kid after staging settled")
	}
}
