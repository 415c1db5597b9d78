package database

import (
	"context"
	"fmt"

	"bookingsync/internal/models"

	"github.com/google/uuid"
)

const logColumns = `id, integration_id, job_id, event_id, direction, action, status, request_payload,
	response_payload, error_message, idempotency_key, attempt, max_attempts, started_at, completed_at, created_at`

// InsertSyncLog appends an audit row. Logs are never updated.
func (q queries) InsertSyncLog(ctx context.Context, entry *models.SyncLog) error {
	ts := now()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = ts
	}
	if entry.CompletedAt == nil {
		entry.CompletedAt = &ts
	}
	entry.CreatedAt = ts

	_, err := q.exec(ctx, `INSERT INTO sync_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.IntegrationID, entry.JobID, entry.EventID, entry.Direction, entry.Action, entry.Status,
		entry.RequestPayload, entry.ResponsePayload, entry.ErrorMessage, entry.IdempotencyKey,
		entry.Attempt, entry.MaxAttempts, entry.StartedAt.UTC(), utcPtr(entry.CompletedAt), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync log: %w", err)
	}
	return nil
}

// SyncLogFilter narrows ListSyncLogs. Empty fields are ignored.
type SyncLogFilter struct {
	IntegrationID string
	JobID         string
	Limit         int
}

// ListSyncLogs returns log rows, newest first.
func (q queries) ListSyncLogs(ctx context.Context, f SyncLogFilter) ([]models.SyncLog, error) {
	query := `SELECT ` + logColumns + ` FROM sync_logs WHERE 1 = 1`
	var args []interface{}
	if f.IntegrationID != "" {
		query += ` AND integration_id = ?`
		args = append(args, f.IntegrationID)
	}
	if f.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, f.JobID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var logs []models.SyncLog
	if err := q.selectAll(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return logs, nil
}
