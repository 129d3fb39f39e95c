// Package security provides the audit trail and brute-force protections
// for the authorization core: durable security-event logging with PII
// hashing, per-account lockout derived from the persisted trail, an
// in-process per-IP failure tracker, and a token-bucket rate limiter
// used to keep repeated security events from flooding the log.
package security
