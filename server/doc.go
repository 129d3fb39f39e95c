// Package server implements the authorization core: issuing and
// redeeming single-use authorization codes, minting RS256-signed access
// and ID tokens, rotating refresh tokens, and best-effort revocation.
//
// The Server coordinates the flow across pluggable storage backends, the
// key manager, and the security auditor. It is transport-agnostic:
// request fields arrive already parsed, and structured *authcore.Error
// values tell the outer layer how to answer on the wire.
//
// Duplicate token-exchange requests are answered from a short-TTL replay
// cache so a client that times out after its code was consumed can retry
// and receive the identical response.
package server
