package server

import (
	"net"
	"net/url"
	"strings"

	"github.com/taskhaven/authcore"
	"github.com/taskhaven/authcore/pkce"
	"github.com/taskhaven/authcore/storage"
)

// GrantType enumerates the grant kinds this core dispatches on. The set
// is closed: adding or removing a grant is a compile-time-checked change
// to the exhaustive switch in ProcessTokenRequest.
type GrantType int

const (
	// GrantTypeUnknown is any grant_type value outside the supported set
	GrantTypeUnknown GrantType = iota

	// GrantTypeAuthorizationCode is the authorization_code grant
	GrantTypeAuthorizationCode

	// GrantTypeRefreshToken is the refresh_token grant
	GrantTypeRefreshToken
)

// ParseGrantType maps a wire grant_type value onto the closed enumeration.
func ParseGrantType(s string) GrantType {
	switch s {
	case "authorization_code":
		return GrantTypeAuthorizationCode
	case "refresh_token":
		return GrantTypeRefreshToken
	default:
		return GrantTypeUnknown
	}
}

// String returns the wire form of the grant type.
func (g GrantType) String() string {
	switch g {
	case GrantTypeAuthorizationCode:
		return "authorization_code"
	case GrantTypeRefreshToken:
		return "refresh_token"
	default:
		return "unknown"
	}
}

// validateRedirectURI checks that the redirect URI is exactly in the
// client's registered set and structurally acceptable. Matching is
// exact-string per OAuth 2.0 Security BCP; no prefix or pattern matching.
func validateRedirectURI(client *storage.Client, redirectURI string) *authcore.Error {
	if redirectURI == "" {
		return authcore.ErrInvalidRequest("redirect_uri is required")
	}

	found := false
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			found = true
			break
		}
	}
	if !found {
		return authcore.ErrInvalidRedirectURI("redirect URI not registered for client")
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return authcore.ErrInvalidRedirectURI("invalid redirect_uri format")
	}
	// Redirect URIs must not carry fragments (OAuth 2.0 Security BCP 4.1.3)
	if parsed.Fragment != "" {
		return authcore.ErrInvalidRedirectURI("redirect_uri must not contain a fragment")
	}

	return nil
}

// validateScopes resolves the granted scope set for a request. An empty
// request grants the configured default scope. Every requested scope
// must be in the client's registered allow-list; the error does not say
// which scope was rejected, to prevent allow-list enumeration.
func validateScopes(client *storage.Client, requestedScope, defaultScope string) (string, *authcore.Error) {
	if strings.TrimSpace(requestedScope) == "" {
		requestedScope = defaultScope
	}

	requested := strings.Fields(requestedScope)

	if len(client.Scopes) > 0 {
		for _, reqScope := range requested {
			found := false
			for _, allowed := range client.Scopes {
				if reqScope == allowed {
					found = true
					break
				}
			}
			if !found {
				return "", authcore.ErrInvalidScope("client is not authorized for one or more requested scopes")
			}
		}
	}

	return strings.Join(requested, " "), nil
}

// validatePKCEParams checks the challenge parameters on an authorization
// request. A challenge without a valid method is a validation failure.
func validatePKCEParams(codeChallenge, codeChallengeMethod string) *authcore.Error {
	if codeChallenge == "" {
		if codeChallengeMethod != "" {
			return authcore.ErrInvalidRequest("code_challenge_method requires a code_challenge")
		}
		return nil
	}

	switch codeChallengeMethod {
	case pkce.MethodS256, pkce.MethodPlain:
		return nil
	case "":
		return authcore.ErrInvalidRequest("code_challenge_method is required when code_challenge is provided")
	default:
		return authcore.ErrInvalidRequest("unsupported code_challenge_method (supported: S256, plain)")
	}
}

// validateIssuer enforces that the issuer is set and uses HTTPS, or HTTP
// on localhost for development. An unset issuer is startup-fatal because
// every signed token carries it as the iss claim.
func validateIssuer(issuer string) *authcore.Error {
	if issuer == "" {
		return authcore.ErrConfiguration("issuer is required")
	}

	parsed, err := url.Parse(issuer)
	if err != nil {
		return authcore.ErrConfiguration("invalid issuer URL")
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalhostHostname(parsed.Hostname()) {
			return nil
		}
		return authcore.ErrConfiguration("issuer must use HTTPS outside localhost")
	default:
		return authcore.ErrConfiguration("issuer URL scheme must be http or https")
	}
}

// isLocalhostHostname checks if a hostname refers to the local machine,
// covering the whole 127.0.0.0/8 range and the IPv6 loopback.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
