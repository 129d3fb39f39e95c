package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhaven/authcore/security"
	"github.com/taskhaven/authcore/storage"
)

// AppendSecurityEvent appends an event to the audit trail. The event
// body is stored with a retention TTL; failed logins are additionally
// indexed in sorted sets so the lockout counters are a single ZCOUNT
// instead of a scan.
func (s *Store) AppendSecurityEvent(ctx context.Context, event *storage.SecurityEvent) error {
	if event == nil || event.Type == "" {
		return fmt.Errorf("invalid security event")
	}

	eventID := event.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	stored := *event
	stored.ID = eventID
	stored.Timestamp = timestamp

	data, err := json.Marshal(toSecurityEventJSON(&stored))
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	retention := time.Duration(s.eventRetentionDays) * 24 * time.Hour

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.eventKey(eventID)).Value(string(data)).Ex(retention).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save security event: %w", err)
	}

	if event.Type == security.EventLoginFailed {
		s.indexFailedLogin(ctx, eventID, event.UserID, timestamp, retention)
	}

	return nil
}

// indexFailedLogin adds a failed login to the global and per-user
// sorted sets. Index failures are logged but not fatal; the event body
// is already persisted.
func (s *Store) indexFailedLogin(ctx context.Context, eventID, userID string, timestamp time.Time, retention time.Duration) {
	score := float64(timestamp.Unix())

	keys := []string{s.failedLoginsKey()}
	if userID != "" {
		keys = append(keys, s.userFailedLoginsKey(userID))
	}

	for _, key := range keys {
		if err := s.client.Do(ctx,
			s.client.B().Zadd().Key(key).ScoreMember().ScoreMember(score, eventID).Build(),
		).Error(); err != nil {
			s.logger.Warn("Failed to index failed login", "key", key, "error", err)
			continue
		}
		if err := s.client.Do(ctx,
			s.client.B().Expire().Key(key).Seconds(int64(retention.Seconds())).Build(),
		).Error(); err != nil {
			s.logger.Warn("Failed to set TTL on failed login index", "key", key, "error", err)
		}
	}
}

// CountFailedLogins counts failed login events for a user since the
// given time
func (s *Store) CountFailedLogins(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := validateIDLength(userID, "user ID"); err != nil {
		return 0, err
	}
	return s.countFailedLoginsInIndex(ctx, s.userFailedLoginsKey(userID), since)
}

// CountFailedLoginsSince counts failed login events across all users
// since the given time
func (s *Store) CountFailedLoginsSince(ctx context.Context, since time.Time) (int, error) {
	return s.countFailedLoginsInIndex(ctx, s.failedLoginsKey(), since)
}

func (s *Store) countFailedLoginsInIndex(ctx context.Context, key string, since time.Time) (int, error) {
	// Trim entries past retention so the sets stay bounded
	retentionCutoff := time.Now().Add(-time.Duration(s.eventRetentionDays) * 24 * time.Hour)
	if err := s.client.Do(ctx,
		s.client.B().Zremrangebyscore().Key(key).
			Min("-inf").
			Max(fmt.Sprintf("%d", retentionCutoff.Unix())).
			Build(),
	).Error(); err != nil && !isNilError(err) {
		s.logger.Warn("Failed to trim failed login index", "key", key, "error", err)
	}

	count, err := s.client.Do(ctx,
		s.client.B().Zcount().Key(key).
			Min(fmt.Sprintf("(%d", since.Unix())).
			Max("+inf").
			Build(),
	).AsInt64()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}

	return int(count), nil
}
