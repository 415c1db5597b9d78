package database

import (
	"context"
	"fmt"
	"time"

	"bookingsync/internal/models"

	"github.com/google/uuid"
)

const integrationColumns = `id, user_id, provider, encrypted_credentials, is_enabled, last_sync_at, last_sync_status,
	next_sync_at, total_synced_events, failed_syncs, sync_settings, webhook_config, created_at, updated_at`

// CreateIntegration inserts a new integration.
func (q queries) CreateIntegration(ctx context.Context, in *models.Integration) error {
	ts := now()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = ts
	in.UpdatedAt = ts

	_, err := q.exec(ctx, `INSERT INTO booking_system_integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, in.Provider, in.EncryptedCredentials, in.IsEnabled, utcPtr(in.LastSyncAt),
		in.LastSyncStatus, utcPtr(in.NextSyncAt), in.TotalSyncedEvents, in.FailedSyncs, in.SyncSettings,
		in.Webhook, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}
	return nil
}

// GetIntegration returns an integration by id or ErrNotFound.
func (q queries) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	var in models.Integration
	if err := q.get(ctx, &in, `SELECT `+integrationColumns+` FROM booking_system_integrations WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get integration %s: %w", id, err)
	}
	return &in, nil
}

// ListDueIntegrations returns enabled integrations whose next_sync_at is null or due.
func (q queries) ListDueIntegrations(ctx context.Context, at time.Time) ([]models.Integration, error) {
	var list []models.Integration
	err := q.selectAll(ctx, &list,
		`SELECT `+integrationColumns+` FROM booking_system_integrations
		 WHERE is_enabled = TRUE AND (next_sync_at IS NULL OR next_sync_at <= ?)
		 ORDER BY created_at ASC`,
		at.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due integrations: %w", err)
	}
	return list, nil
}

// FullSyncResult is what the full-sync job records after processing one integration.
type FullSyncResult struct {
	At         time.Time
	Success    bool
	Synced     int
	NextSyncAt time.Time
}

// RecordFullSync stores the outcome of a full sync run and bumps the counters.
func (q queries) RecordFullSync(ctx context.Context, id string, r FullSyncResult) error {
	status := models.LastSyncSuccess
	synced, failed := int64(r.Synced), int64(0)
	if !r.Success {
		status = models.LastSyncFailed
		failed = 1
	}

	n, err := q.exec(ctx,
		`UPDATE booking_system_integrations SET last_sync_at = ?, last_sync_status = ?, next_sync_at = ?,
			total_synced_events = total_synced_events + ?, failed_syncs = failed_syncs + ?, updated_at = ?
		 WHERE id = ?`,
		r.At.UTC(), status, r.NextSyncAt.UTC(), synced, failed, now(), id)
	if err != nil {
		return fmt.Errorf("failed to record full sync for integration %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to record full sync for integration %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveWebhookConfig stores the provider webhook registration.
func (q queries) SaveWebhookConfig(ctx context.Context, id string, cfg models.WebhookConfig) error {
	n, err := q.exec(ctx,
		`UPDATE booking_system_integrations SET webhook_config = ?, updated_at = ? WHERE id = ?`,
		models.WebhookSettings{Config: &cfg}, now(), id)
	if err != nil {
		return fmt.Errorf("failed to save webhook config: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to save webhook config for integration %s: %w", id, ErrNotFound)
	}
	return nil
}

// ScheduleFullSync pulls the next full sync of an enabled integration forward to at.
func (q queries) ScheduleFullSync(ctx context.Context, id string, at time.Time) error {
	n, err := q.exec(ctx,
		`UPDATE booking_system_integrations SET next_sync_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), now(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule full sync for integration %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to schedule full sync for integration %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListIntegrations returns every integration, oldest first.
func (q queries) ListIntegrations(ctx context.Context) ([]models.Integration, error) {
	var list []models.Integration
	if err := q.selectAll(ctx, &list, `SELECT `+integrationColumns+` FROM booking_system_integrations ORDER BY created_at ASC`); err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return list, nil
}
