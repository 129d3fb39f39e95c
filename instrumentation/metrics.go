package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization core
type Metrics struct {
	// Authorization flow metrics
	CodesIssued    metric.Int64Counter
	CodeExchanges  metric.Int64Counter
	TokenRefreshes metric.Int64Counter
	TokenRevoked   metric.Int64Counter

	// Security metrics
	PKCEValidationFailed metric.Int64Counter
	ReplayCacheHits      metric.Int64Counter
	RefreshReuseDetected metric.Int64Counter
	LockoutsTriggered    metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageCodesCount         metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageClientsCount       metric.Int64ObservableGauge
	StorageEventsCount        metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.CodesIssued, err = serverMeter.Int64Counter(
		"authcore.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.issued counter: %w", err)
	}

	m.CodeExchanges, err = serverMeter.Int64Counter(
		"authcore.code.exchanges",
		metric.WithDescription("Number of authorization code exchanges"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanges counter: %w", err)
	}

	m.TokenRefreshes, err = serverMeter.Int64Counter(
		"authcore.token.refreshes",
		metric.WithDescription("Number of refresh-token grants processed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshes counter: %w", err)
	}

	m.TokenRevoked, err = serverMeter.Int64Counter(
		"authcore.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"authcore.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.ReplayCacheHits, err = securityMeter.Int64Counter(
		"authcore.replay.cache_hits",
		metric.WithDescription("Number of duplicate token exchanges answered from the replay cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay.cache_hits counter: %w", err)
	}

	m.RefreshReuseDetected, err = securityMeter.Int64Counter(
		"authcore.refresh.reuse_detected",
		metric.WithDescription("Number of rotated or revoked refresh tokens presented again"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.reuse_detected counter: %w", err)
	}

	m.LockoutsTriggered, err = securityMeter.Int64Counter(
		"authcore.lockouts.triggered",
		metric.WithDescription("Number of account or IP lockouts triggered"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lockouts.triggered counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"authcore.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"storage.codes.count",
		metric.WithDescription("Number of authorization codes currently stored"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of refresh tokens currently stored"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Number of registered clients currently stored"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageEventsCount, err = storageMeter.Int64ObservableGauge(
		"storage.events.count",
		metric.WithDescription("Number of security events currently stored"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.events.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordCodeIssued records an issued authorization code
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordExchange records a token request outcome by grant type
func (m *Metrics) RecordExchange(ctx context.Context, grantType string, success bool) {
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.Bool("success", success),
	))
}

// RecordRefresh records a refresh-token grant outcome
func (m *Metrics) RecordRefresh(ctx context.Context, success bool) {
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordRevocation records a revocation call by token type
func (m *Metrics) RecordRevocation(ctx context.Context, tokenType string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTokenType, tokenType)))
}

// RecordPKCEFailure records a failed PKCE verification
func (m *Metrics) RecordPKCEFailure(ctx context.Context, clientID string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordReplayHit records a token exchange answered from the replay cache
func (m *Metrics) RecordReplayHit(ctx context.Context, clientID string) {
	m.ReplayCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordRefreshReuse records a rotated or revoked refresh token being presented again
func (m *Metrics) RecordRefreshReuse(ctx context.Context, clientID string) {
	m.RefreshReuseDetected.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrClientID, clientID)))
}

// RecordLockout records a triggered lockout; kind is "account" or "ip"
func (m *Metrics) RecordLockout(ctx context.Context, kind string) {
	m.LockoutsTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("lockout.kind", kind)))
}

// RecordAuditEvent records an appended audit event by type
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuditEventType, eventType)))
}

// RecordStorageOperation records a storage operation with its duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation string, success bool, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStorageType, backend),
		attribute.String(AttrStorageOperation, operation),
		attribute.Bool("success", success),
	}
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))
}
