// Package storage provides interfaces and shared types for persisting the
// authorization core's protocol state.
//
// The package defines four narrow store interfaces:
//   - CodeStore: single-use authorization codes with atomic consumption
//   - RefreshTokenStore: digest-keyed refresh tokens with atomic rotation
//   - ClientStore: read-only access to the OAuth application registry
//   - EventStore: the append-only security audit trail
//
// plus the UserDirectory collaborator for account lookups.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
//
// The atomic operations (AtomicConsumeAuthorizationCode,
// AtomicConsumeRefreshToken) carry the exactly-once invariants of the
// protocol; backends must implement them with a compare-and-swap or an
// equivalent serializable update, not a read-then-write pair.
package storage
