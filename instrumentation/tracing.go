package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put actual credential values (access tokens,
// refresh tokens, authorization codes, client secrets) in traces or
// metrics. Only record metadata such as token types, expiry, and
// validation results. Traces are persisted, widely readable, and
// replicated across monitoring infrastructure.
const (
	// OAuth flow attributes, metadata only
	AttrClientID     = "oauth.client_id"     // Client identifier (non-secret)
	AttrUserID       = "oauth.user_id"       // User identifier (non-secret)
	AttrScope        = "oauth.scope"         // Granted scopes
	AttrPKCEMethod   = "oauth.pkce.method"   // PKCE method used (S256, plain)
	AttrGrantType    = "oauth.grant_type"    // OAuth grant type
	AttrResponseType = "oauth.response_type" // OAuth response type
	AttrClientType   = "oauth.client_type"   // Client type (public/confidential)
	AttrTokenType    = "oauth.token_type"    //nolint:gosec // G101: token type label, not a credential
	AttrTokenRotated = "oauth.token.rotated" //nolint:gosec // G101: rotation flag, not a credential
	AttrError        = "oauth.error"         // OAuth error code

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrClientIP       = "security.client_ip"
	AttrAuditEventType = "security.audit.event_type"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common authorization flow attributes to a span (nil-safe)
func AddFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}
