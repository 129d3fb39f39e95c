// Package authcore is the embedded OAuth 2.0 / OIDC authorization core of
// the Taskhaven backend. It issues and redeems single-use authorization
// codes, mints RS256-signed access and ID tokens, rotates opaque refresh
// tokens, enforces PKCE, and keeps a security audit trail with
// brute-force lockout.
//
// The root package holds the wire types and the structured error
// taxonomy shared by callers. The moving parts live in subpackages:
//
//   - server: the Authorization Issuer, Token Issuer, and Replay Guard
//   - pkce: stateless PKCE verifier helpers (RFC 7636)
//   - keys: the process signing key pair and its JWKS document
//   - security: audit logging and per-account / per-IP lockout
//   - storage: persistence interfaces with in-memory and Valkey backends
//   - instrumentation: OpenTelemetry metrics and tracing
//
// Transport framing is deliberately out of scope: callers hand the
// server already-parsed request fields and map *authcore.Error values
// onto their wire protocol.
package authcore
