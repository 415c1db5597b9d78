package database

import (
	"context"
	"fmt"
	"time"

	"bookingsync/internal/models"

	"github.com/google/uuid"
)

const eventColumns = `id, user_id, integration_id, source, external_id, title, description, start_time, end_time,
	status, contact_person, contact_email, contact_phone, metadata, sync_status, sync_state, sync_version,
	last_synced_at, idempotency_key, created_at, updated_at`

// CreateEvent inserts a new local event.
func (q queries) CreateEvent(ctx context.Context, ev *models.CalendarEvent) error {
	ts := now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.SyncStatus == "" {
		ev.SyncStatus = models.SyncStatusPending
	}
	if ev.SyncState == "" {
		ev.SyncState = models.SyncStateIdle
	}
	if ev.Status == "" {
		ev.Status = models.StatusConfirmed
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = ts
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = ts
	}

	query := `INSERT INTO calendar_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.exec(ctx, query,
		ev.ID, ev.UserID, ev.IntegrationID, ev.Source, ev.ExternalID, ev.Title, ev.Description,
		ev.StartTime.UTC(), ev.EndTime.UTC(), ev.Status, ev.ContactPerson, ev.ContactEmail, ev.ContactPhone,
		ev.Metadata, ev.SyncStatus, ev.SyncState, ev.SyncVersion, utcPtr(ev.LastSyncedAt), ev.IdempotencyKey,
		ev.CreatedAt.UTC(), ev.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create calendar event: %w", err)
	}
	return nil
}

// GetEvent returns an event by id or ErrNotFound.
func (q queries) GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error) {
	var ev models.CalendarEvent
	if err := q.get(ctx, &ev, `SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get calendar event %s: %w", id, err)
	}
	return &ev, nil
}

// FindEventByExternalID looks an event up by its provider identity.
func (q queries) FindEventByExternalID(ctx context.Context, userID, source, externalID string) (*models.CalendarEvent, error) {
	var ev models.CalendarEvent
	err := q.get(ctx, &ev,
		`SELECT `+eventColumns+` FROM calendar_events WHERE user_id = ? AND source = ? AND external_id = ?`,
		userID, source, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar event %s/%s: %w", source, externalID, err)
	}
	return &ev, nil
}

// ListEvents returns a user's events starting inside [from, to).
func (q queries) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]models.CalendarEvent, error) {
	var events []models.CalendarEvent
	err := q.selectAll(ctx, &events,
		`SELECT `+eventColumns+` FROM calendar_events
		 WHERE user_id = ? AND start_time >= ? AND start_time < ?
		 ORDER BY start_time ASC`,
		userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}
	return events, nil
}

// CountEventsByExternalID is used to assert upsert uniqueness.
func (q queries) CountEventsByExternalID(ctx context.Context, source, externalID string) (int, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM calendar_events WHERE source = ? AND external_id = ?`, source, externalID); err != nil {
		return 0, fmt.Errorf("failed to count calendar events: %w", err)
	}
	return n, nil
}

// UpsertProviderEvent writes a provider-originated event keyed on (user_id, source, external_id).
// Concurrent upserts of the same booking converge on one row. The returned bool is true
// when a new row was inserted.
func (q queries) UpsertProviderEvent(ctx context.Context, ev *models.CalendarEvent) (bool, error) {
	if ev.ExternalID == nil || *ev.ExternalID == "" {
		return false, fmt.Errorf("failed to upsert calendar event: external id is required")
	}

	ts := now()
	newID := uuid.NewString()
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = ts
	}
	if ev.Metadata == nil {
		ev.Metadata = models.Metadata{}
	}

	query := `INSERT INTO calendar_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, NULL, ?, ?)
		ON CONFLICT (user_id, source, external_id) DO UPDATE SET
			integration_id = excluded.integration_id,
			title = excluded.title,
			description = excluded.description,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			status = excluded.status,
			contact_person = excluded.contact_person,
			contact_email = excluded.contact_email,
			contact_phone = excluded.contact_phone,
			metadata = excluded.metadata,
			sync_status = excluded.sync_status,
			sync_state = excluded.sync_state,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at
		RETURNING id`

	var id string
	err := q.ext.QueryRowxContext(ctx, q.rebind(query),
		newID, ev.UserID, ev.IntegrationID, ev.Source, ev.ExternalID, ev.Title, ev.Description,
		ev.StartTime.UTC(), ev.EndTime.UTC(), ev.Status, ev.ContactPerson, ev.ContactEmail, ev.ContactPhone,
		ev.Metadata, models.SyncStatusSynced, models.SyncStateIdle, ts, ts, ev.UpdatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return false, fmt.Errorf("failed to upsert calendar event: %w", err)
	}

	ev.ID = id
	ev.SyncStatus = models.SyncStatusSynced
	ev.SyncState = models.SyncStateIdle
	ev.LastSyncedAt = &ts
	return id == newID, nil
}

// UpdateEventContent stores a local edit and marks the event as awaiting sync.
func (q queries) UpdateEventContent(ctx context.Context, ev *models.CalendarEvent) error {
	ev.UpdatedAt = now()
	ev.SyncStatus = models.SyncStatusPending
	n, err := q.exec(ctx,
		`UPDATE calendar_events SET title = ?, description = ?, start_time = ?, end_time = ?, status = ?,
			contact_person = ?, contact_email = ?, contact_phone = ?, metadata = ?, sync_status = ?, updated_at = ?
		 WHERE id = ?`,
		ev.Title, ev.Description, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.Status,
		ev.ContactPerson, ev.ContactEmail, ev.ContactPhone, ev.Metadata, ev.SyncStatus, ev.UpdatedAt, ev.ID)
	if err != nil {
		return fmt.Errorf("failed to update calendar event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update calendar event %s: %w", ev.ID, ErrNotFound)
	}
	return nil
}

// MarkEventSyncing flips sync_state to syncing for the duration of an outbound attempt.
func (q queries) MarkEventSyncing(ctx context.Context, id, idempotencyKey string) error {
	return q.setEventState(ctx, id,
		`UPDATE calendar_events SET sync_state = ?, idempotency_key = ? WHERE id = ?`,
		models.SyncStateSyncing, idempotencyKey, id)
}

// MarkEventSynced records a successful outbound mutation and advances sync_version.
func (q queries) MarkEventSynced(ctx context.Context, id, externalID string, at time.Time) error {
	var ext *string
	if externalID != "" {
		ext = &externalID
	}
	return q.setEventState(ctx, id,
		`UPDATE calendar_events SET external_id = COALESCE(?, external_id), sync_version = sync_version + 1,
			last_synced_at = ?, sync_state = ?, sync_status = ?
		 WHERE id = ?`,
		ext, at.UTC(), models.SyncStateIdle, models.SyncStatusSynced, id)
}

// MarkEventFailed parks the event visibly after its job was dead-lettered.
func (q queries) MarkEventFailed(ctx context.Context, id string) error {
	return q.setEventState(ctx, id,
		`UPDATE calendar_events SET sync_state = ?, sync_status = ? WHERE id = ?`,
		models.SyncStateError, models.SyncStatusFailed, id)
}

// SetEventSyncState changes only sync_state.
func (q queries) SetEventSyncState(ctx context.Context, id, state string) error {
	return q.setEventState(ctx, id, `UPDATE calendar_events SET sync_state = ? WHERE id = ?`, state, id)
}

func (q queries) setEventState(ctx context.Context, id, query string, args ...interface{}) error {
	n, err := q.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync state of event %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update sync state of event %s: %w", id, ErrNotFound)
	}
	return nil
}
