// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and
// single-instance deployments; multi-instance deployments need the
// valkey backend so the atomic redemption guarantees hold across
// processes.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskhaven/authcore/instrumentation"
	"github.com/taskhaven/authcore/internal/util"
	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

const (
	// codeLogLength is the number of characters included when logging
	// code and digest prefixes
	codeLogLength = 8

	// maxEventEntries bounds the in-memory audit trail. Oldest entries
	// are dropped past this point; durable retention belongs to a real
	// backend.
	maxEventEntries = 100000

	// eventRetention is how long audit events are kept before the
	// cleanup loop reaps them
	eventRetention = 90 * 24 * time.Hour
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	authCodes     map[string]*storage.AuthorizationCode
	refreshTokens map[string]*storage.RefreshToken // keyed by digest
	clients       map[string]*storage.Client
	users         map[string]*storage.User
	events        []*storage.SecurityEvent

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for size gauges (lock-free during metric collection)
	codesCountAtomic         atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	clientsCountAtomic       atomic.Int64
	eventsCountAtomic        atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.EventStore        = (*Store)(nil)
	_ storage.UserDirectory     = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute
// is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		authCodes:       make(map[string]*storage.AuthorizationCode),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.eventsCountAtomic.Store(int64(len(s.events)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.eventsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// CodeStore implementation
// ============================================================

// SaveAuthorizationCode persists a freshly issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.authCodes[code.Code]
	stored := *code
	s.authCodes[code.Code] = &stored
	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming
// it. For redemption use AtomicConsumeAuthorizationCode; this read is for
// diagnostics only.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	if security.IsExpired(authCode.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	codeCopy := *authCode
	return &codeCopy, nil
}

// AtomicConsumeAuthorizationCode atomically checks that a code is unused
// and unexpired and flips its used flag. Only one concurrent caller can
// pass the check-and-set under the write lock; everyone else sees
// Used=true.
func (s *Store) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}
	if security.IsExpired(authCode.ExpiresAt) {
		err = storage.ErrCodeExpired
		return nil, err
	}
	if authCode.Used {
		err = storage.ErrCodeUsed
		return nil, err
	}

	before := *authCode
	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	return &before, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; ok {
		delete(s.authCodes, code)
		s.codesCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// RefreshTokenStore implementation
// ============================================================

// SaveRefreshToken persists a refresh token record keyed by digest
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Digest == "" {
		err = fmt.Errorf("invalid refresh token record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.refreshTokens[token.Digest]
	stored := *token
	s.refreshTokens[token.Digest] = &stored
	if !existed {
		s.refreshTokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved refresh token",
		"digest_prefix", util.SafeTruncate(token.Digest, codeLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token record by digest
func (s *Store) GetRefreshToken(ctx context.Context, digest string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[digest]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}
	if token.Revoked {
		return nil, storage.ErrRefreshTokenRevoked
	}
	if security.IsExpired(token.ExpiresAt) {
		return nil, storage.ErrRefreshTokenExpired
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// AtomicConsumeRefreshToken atomically retrieves an active refresh token
// and marks it revoked. The write lock makes the check-and-revoke a
// single step, so concurrent refresh attempts with the same token cannot
// both succeed.
func (s *Store) AtomicConsumeRefreshToken(ctx context.Context, digest string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[digest]
	if !ok {
		err = storage.ErrRefreshTokenNotFound
		return nil, err
	}
	if token.Revoked {
		err = storage.ErrRefreshTokenRevoked
		return nil, err
	}
	if security.IsExpired(token.ExpiresAt) {
		err = storage.ErrRefreshTokenExpired
		return nil, err
	}

	before := *token
	token.Revoked = true
	token.RevokedAt = time.Now()

	s.logger.Debug("Consumed refresh token for rotation",
		"digest_prefix", util.SafeTruncate(digest, codeLogLength))
	return &before, nil
}

// RevokeRefreshToken marks a refresh token revoked. Revoking an unknown
// digest is not an error.
func (s *Store) RevokeRefreshToken(ctx context.Context, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[digest]
	if !ok || token.Revoked {
		return nil
	}
	token.Revoked = true
	token.RevokedAt = time.Now()

	s.logger.Debug("Revoked refresh token",
		"digest_prefix", util.SafeTruncate(digest, codeLogLength))
	return nil
}

// RevokeAllForUserClient revokes every active refresh token for a
// user+client combination. Returns the number of tokens revoked.
func (s *Store) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_all_for_user_client")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_all_for_user_client", nil, startTime)
	}()

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.refreshTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = now
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all refresh tokens for user+client",
			"user_count", revoked,
			"client_id", clientID)
	}
	return revoked, nil
}

// ============================================================
// ClientStore implementation
// ============================================================

// SaveClient registers a client. The registry is normally owned
// elsewhere; this setter exists for development and tests.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]
	stored := *client
	s.clients[client.ClientID] = &stored
	if !existed {
		s.clientsCountAtomic.Add(1)
	}
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	clientCopy := *client
	return &clientCopy, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison always runs, against a dummy hash when the client
// is unknown, so response timing does not reveal client existence.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// bcrypt hash of "test"; compared against when no real hash exists
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	isPublicClient := false

	if err == nil {
		if client.ClientType == "public" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if isPublicClient && err == nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid client credentials")
	}
	if bcryptErr != nil {
		return fmt.Errorf("invalid client credentials")
	}
	return nil
}

// ============================================================
// UserDirectory implementation
// ============================================================

// SaveUser adds a user to the directory. The directory is normally owned
// elsewhere; this setter exists for development and tests.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *user
	s.users[user.ID] = &stored
	return nil
}

// GetUser retrieves a user account by its stable identifier
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}

	userCopy := *user
	return &userCopy, nil
}

// ============================================================
// EventStore implementation
// ============================================================

// AppendSecurityEvent appends an event to the audit trail. The in-memory
// trail is bounded; the oldest entries are dropped past the cap.
func (s *Store) AppendSecurityEvent(ctx context.Context, event *storage.SecurityEvent) error {
	ctx, span := s.startStorageSpan(ctx, "append_security_event")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "append_security_event", err, startTime)
	}()

	if event == nil || event.Type == "" {
		err = fmt.Errorf("invalid security event")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	s.events = append(s.events, &stored)
	if len(s.events) > maxEventEntries {
		dropped := len(s.events) - maxEventEntries
		s.events = s.events[dropped:]
		s.logger.Warn("Audit trail at capacity, dropped oldest events",
			"dropped", dropped)
	}
	s.eventsCountAtomic.Store(int64(len(s.events)))
	return nil
}

// CountFailedLogins counts failed login events for a user since the
// given time
func (s *Store) CountFailedLogins(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, event := range s.events {
		if event.Type == security.EventLoginFailed && event.UserID == userID && event.Timestamp.After(since) {
			count++
		}
	}
	return count, nil
}

// CountFailedLoginsSince counts failed login events across all users
// since the given time
func (s *Store) CountFailedLoginsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, event := range s.events {
		if event.Type == security.EventLoginFailed && event.Timestamp.After(since) {
			count++
		}
	}
	return count, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup reaps expired authorization codes and refresh tokens and aged
// out audit events. Used codes stay until their TTL elapses so duplicate
// redemptions keep hitting the used marker rather than not-found.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.authCodes {
		if security.IsExpired(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	for digest, token := range s.refreshTokens {
		if security.IsExpired(token.ExpiresAt) {
			delete(s.refreshTokens, digest)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	cutoff := time.Now().Add(-eventRetention)
	firstKept := 0
	for firstKept < len(s.events) && s.events[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		s.events = s.events[firstKept:]
		s.eventsCountAtomic.Store(int64(len(s.events)))
		cleaned += firstKept
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired records", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	if s.instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	s.instrumentation.Metrics().RecordStorageOperation(ctx, "memory", operation, err == nil, durationMs)
}
