package authcore

import (
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeInvalidRedirectURI   = "invalid_redirect_uri"
)

// Kind classifies an error by the stage of processing that produced it.
// The outer request-handling layer maps kinds onto wire-level behavior
// (retry policy, status codes); the OAuth code in Error.Code is what the
// client sees.
type Kind int

const (
	// KindValidation covers malformed or missing request fields.
	KindValidation Kind = iota

	// KindAuthorization covers unknown clients, unregistered redirect
	// URIs, and scopes outside the client's allow-list.
	KindAuthorization

	// KindGrant covers expired, reused, or unknown codes and refresh
	// tokens, and PKCE mismatches.
	KindGrant

	// KindConfiguration covers startup-fatal conditions such as a
	// missing signing key or unset issuer. Never produced per-request.
	KindConfiguration

	// KindSigning covers token signing failures. A partially-signed
	// token is never returned alongside this kind.
	KindSigning
)

// String returns a short label for the kind, used in logs.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindGrant:
		return "grant"
	case KindConfiguration:
		return "configuration"
	case KindSigning:
		return "signing"
	default:
		return "unknown"
	}
}

// Error represents a structured OAuth 2.0 error
type Error struct {
	Kind        Kind   // Processing stage that produced the error
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code suggested to the outer layer
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new OAuth error
func NewError(kind Kind, code, description string, status int) *Error {
	return &Error{
		Kind:        kind,
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(KindValidation, ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(KindGrant, ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(KindAuthorization, ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *Error {
		return NewError(KindAuthorization, ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *Error {
		return NewError(KindGrant, ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(KindAuthorization, ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(KindValidation, ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *Error {
		return NewError(KindSigning, ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrConfiguration indicates a startup-fatal configuration problem
	ErrConfiguration = func(desc string) *Error {
		return NewError(KindConfiguration, ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is invalid or not registered
	ErrInvalidRedirectURI = func(desc string) *Error {
		return NewError(KindAuthorization, ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}
)
