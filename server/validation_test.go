package server

import (
	"testing"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/storage"
)

func TestParseGrantType(t *testing.T) {
	tests := []struct {
		input string
		want  GrantType
	}{
		{"authorization_code", GrantTypeAuthorizationCode},
		{"refresh_token", GrantTypeRefreshToken},
		{"client_credentials", GrantTypeUnknown},
		{"password", GrantTypeUnknown},
		{"", GrantTypeUnknown},
		{"Authorization_Code", GrantTypeUnknown},
	}

	for _, tt := range tests {
		if got := ParseGrantType(tt.input); got != tt.want {
			t.Errorf("ParseGrantType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestGrantTypeString(t *testing.T) {
	if GrantTypeAuthorizationCode.String() != "authorization_code" {
		t.Error("wrong wire form for authorization code grant")
	}
	if GrantTypeRefreshToken.String() != "refresh_token" {
		t.Error("wrong wire form for refresh grant")
	}
	if GrantTypeUnknown.String() != "unknown" {
		t.Error("wrong wire form for unknown grant")
	}
}

func TestValidateRedirectURI(t *testing.T) {
	client := &storage.Client{
		ClientID:     "c1",
		RedirectURIs: []string{"https://app.example/cb", "https://app.example/cb2"},
	}

	tests := []struct {
		name     string
		uri      string
		wantCode string
	}{
		{"registered", "https://app.example/cb", ""},
		{"second registered", "https://app.example/cb2", ""},
		{"empty", "", authcore.ErrorCodeInvalidRequest},
		{"unregistered", "https://evil.example/cb", authcore.ErrorCodeInvalidRedirectURI},
		{"prefix is not a match", "https://app.example/cb/extra", authcore.ErrorCodeInvalidRedirectURI},
		{"case differs", "https://APP.example/cb", authcore.ErrorCodeInvalidRedirectURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRedirectURI(client, tt.uri)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Code != tt.wantCode {
				t.Errorf("got %v, want code %q", err, tt.wantCode)
			}
		})
	}
}

func TestValidateScopes(t *testing.T) {
	client := &storage.Client{
		ClientID: "c1",
		Scopes:   []string{"openid", "profile", "email"},
	}

	tests := []struct {
		name      string
		requested string
		want      string
		wantErr   bool
	}{
		{"subset", "openid profile", "openid profile", false},
		{"single", "email", "email", false},
		{"empty gets default", "", "openid", false},
		{"whitespace gets default", "   ", "openid", false},
		{"outside allow-list", "openid admin", "", true},
		{"entirely unknown", "payments", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateScopes(client, tt.requested, "openid")
			if tt.wantErr {
				if err == nil {
					t.Errorf("scope %q accepted", tt.requested)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("granted = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateScopesUnrestrictedClient(t *testing.T) {
	// A client with no registered scopes accepts any request.
	client := &storage.Client{ClientID: "c1"}

	got, err := validateScopes(client, "anything at-all", "openid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "anything at-all" {
		t.Errorf("granted = %q", got)
	}
}

func TestValidatePKCEParams(t *testing.T) {
	tests := []struct {
		name      string
		challenge string
		method    string
		wantErr   bool
	}{
		{"no pkce", "", "", false},
		{"s256", "abc", "S256", false},
		{"plain", "abc", "plain", false},
		{"method without challenge", "", "S256", true},
		{"challenge without method", "abc", "", true},
		{"unsupported method", "abc", "S512", true},
		{"lowercase s256", "abc", "s256", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePKCEParams(tt.challenge, tt.method)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePKCEParams(%q, %q) err = %v, wantErr %v",
					tt.challenge, tt.method, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIssuer(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		wantErr bool
	}{
		{"https", "https://auth.example", false},
		{"https with path", "https://auth.example/oauth", false},
		{"http localhost", "http://localhost:8080", false},
		{"http loopback", "http://127.0.0.1:8080", false},
		{"http loopback range", "http://127.0.0.2", false},
		{"http ipv6 loopback", "http://[::1]:8080", false},
		{"empty", "", true},
		{"http public", "http://auth.example", true},
		{"ftp", "ftp://auth.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIssuer(tt.issuer)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateIssuer(%q) err = %v, wantErr %v", tt.issuer, err, tt.wantErr)
			}
		})
	}
}

func TestIsLocalhostHostname(t *testing.T) {
	tests := []struct {
		hostname string
		want     bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.255.255.255", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", true},
		{"example.com", false},
		{"192.168.1.1", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isLocalhostHostname(tt.hostname); got != tt.want {
			t.Errorf("isLocalhostHostname(%q) = %v, want %v", tt.hostname, got, tt.want)
		}
	}
}
