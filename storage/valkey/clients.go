package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskhaven/authcore/storage"
)

// SaveClient registers a client. The registry is normally owned
// elsewhere; this setter exists for provisioning and tests.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	if err := validateIDLength(client.ClientID, "client ID"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := validateIDLength(clientID, "client ID"); err != nil {
		return nil, err
	}

	client, err := getAndUnmarshal(ctx, s, s.clientKey(clientID),
		fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID), fromClientJSON)
	if err != nil {
		return nil, err
	}
	return client, nil
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

// SaveUser adds a user to the directory. The directory is normally owned
// elsewhere; this setter exists for provisioning and tests.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}
	if err := validateIDLength(user.ID, "user ID"); err != nil {
		return err
	}

	data, err := json.Marshal(toUserJSON(user))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	key := s.userKey(user.ID)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser retrieves a user account by its stable identifier
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	if err := validateIDLength(userID, "user ID"); err != nil {
		return nil, err
	}

	user, err := getAndUnmarshal(ctx, s, s.userKey(userID),
		fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID), fromUserJSON)
	if err != nil {
		return nil, err
	}
	return user, nil
}
