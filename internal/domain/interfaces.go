package domain

import (
	"context"
	"fmt"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/models"
)

// SyncStateRepository holds the short-lived coordination state of the sync
// engine: per-event locks and the dead-letter mirror.
type SyncStateRepository interface {
	// AcquireLock takes key for owner until ttl elapses. It reports false when
	// another owner holds the key.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLock drops key only if owner still holds it.
	ReleaseLock(ctx context.Context, key, owner string) error
	PushDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error)
}

// AdapterFactory builds provider adapters from decrypted credentials.
type AdapterFactory interface {
	CreateAdapter(provider string, creds map[string]string) (adapters.Adapter, error)
}

// CredentialOpener decrypts an integration's stored credentials.
type CredentialOpener interface {
	Open(integrationID, sealed string) (map[string]string, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// BuildAdapter decrypts the integration credentials and constructs its adapter.
// Every failure is a configuration error.
func BuildAdapter(factory AdapterFactory, opener CredentialOpener, in *models.Integration) (adapters.Adapter, error) {
	if factory == nil {
		return nil, adapters.ConfigError("no adapter factory")
	}
	creds := map[string]string{}
	if opener != nil && in.EncryptedCredentials != "" {
		opened, err := opener.Open(in.ID, in.EncryptedCredentials)
		if err != nil {
			return nil, fmt.Errorf("%w: credentials of integration %s: %v", adapters.ErrConfiguration, in.ID, err)
		}
		creds = opened
	}
	return factory.CreateAdapter(in.Provider, in.AdapterCredentials(creds))
}
