// Package valkey provides a Valkey-backed implementation of all storage
// interfaces for multi-instance deployments.
//
// Records are stored as JSON values with native TTLs, so Valkey itself
// reaps expired authorization codes, refresh tokens, and audit events.
// The security-critical redemption operations run as Lua scripts, which
// Valkey executes atomically; a code or refresh token presented
// concurrently from several instances is still consumed exactly once.
//
// Key layout (under the configurable prefix, default "authcore:"):
//
//	code:{code}                     authorization code JSON
//	refresh:{digest}                refresh token record JSON
//	client:{clientID}               registered client JSON
//	user:{userID}                   user directory entry JSON
//	userclient:{userID}:{clientID}  set of refresh digests for bulk revocation
//	event:{eventID}                 audit event JSON
//	events:failed                   sorted set of failed logins (score = unix time)
//	events:failed:user:{userID}     per-user failed login sorted set
//
// Refresh token records are marked revoked rather than deleted on
// rotation, so a replayed token is recognized as reuse for as long as
// its original TTL runs.
package valkey
