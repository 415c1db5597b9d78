package models

import "time"

// Integration is a user's connection to one booking provider.
type Integration struct {
	ID                   string          `db:"id" json:"id"`
	UserID               string          `db:"user_id" json:"user_id"`
	Provider             string          `db:"provider" json:"provider"`
	EncryptedCredentials string          `db:"encrypted_credentials" json:"-"`
	IsEnabled            bool            `db:"is_enabled" json:"is_enabled"`
	LastSyncAt           *time.Time      `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncStatus       *string         `db:"last_sync_status" json:"last_sync_status,omitempty"`
	NextSyncAt           *time.Time      `db:"next_sync_at" json:"next_sync_at,omitempty"`
	TotalSyncedEvents    int64           `db:"total_synced_events" json:"total_synced_events"`
	FailedSyncs          int64           `db:"failed_syncs" json:"failed_syncs"`
	SyncSettings         SyncSettings    `db:"sync_settings" json:"sync_settings"`
	Webhook              WebhookSettings `db:"webhook_config" json:"-"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// DueForSync reports whether the full-sync job should process the integration.
func (i *Integration) DueForSync(now time.Time) bool {
	if !i.IsEnabled {
		return false
	}
	return i.NextSyncAt == nil || !i.NextSyncAt.After(now)
}

// AdapterCredentials merges stored webhook material into decrypted credentials.
func (i *Integration) AdapterCredentials(creds map[string]string) map[string]string {
	out := make(map[string]string, len(creds)+1)
	for k, v := range creds {
		out[k] = v
	}
	if i.Webhook.Config != nil && i.Webhook.Config.Secret != "" {
		if _, ok := out[CredentialWebhookSecret]; !ok {
			out[CredentialWebhookSecret] = i.Webhook.Config.Secret
		}
	}
	return out
}

// Credential keys shared by the adapters.
const (
	CredentialAPIKey        = "api_key"
	CredentialSecretKey     = "secret_key"
	CredentialCompany       = "company"
	CredentialLogin         = "login"
	CredentialPassword      = "password"
	CredentialAccessToken   = "access_token"
	CredentialRefreshToken  = "refresh_token"
	CredentialClientID      = "client_id"
	CredentialClientSecret  = "client_secret"
	CredentialCalendarID    = "calendar_id"
	CredentialServiceID     = "service_id"
	CredentialProviderID    = "provider_id"
	CredentialWebhookSecret = "webhook_secret"
	CredentialBaseURL       = "base_url"
)
