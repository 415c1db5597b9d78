package database

import (
	"context"
	"fmt"
	"time"

	"bookingsync/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, integration_id, event_id, operation, payload, status, retry_count, max_attempts,
	next_retry_at, is_dead_letter, last_error, scheduled_at, locked_until, locked_by, completed_at,
	created_at, updated_at`

// EnqueueJob persists a pending job.
func (q queries) EnqueueJob(ctx context.Context, job *models.SyncJob) error {
	ts := now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = models.DefaultOutboundMaxAttempts
		if job.Operation == models.OperationWebhook {
			job.MaxAttempts = models.DefaultInboundMaxAttempts
		}
	}
	if job.Payload == "" {
		job.Payload = "{}"
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = ts
	}
	job.CreatedAt = ts
	job.UpdatedAt = ts

	query := `INSERT INTO booking_sync_queue (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?)`
	_, err := q.exec(ctx, query,
		job.ID, job.IntegrationID, job.EventID, job.Operation, job.Payload, job.Status, job.RetryCount,
		job.MaxAttempts, utcPtr(job.NextRetryAt), job.IsDeadLetter, job.LastError, job.ScheduledAt.UTC(),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return nil
}

// GetJob returns a job by id or ErrNotFound.
func (q queries) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	var job models.SyncJob
	if err := q.get(ctx, &job, `SELECT `+jobColumns+` FROM booking_sync_queue WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get sync job %s: %w", id, err)
	}
	return &job, nil
}

// ClaimJobs atomically leases up to limit eligible jobs of the given operations, FIFO by scheduled_at.
// A job is claimed only if the conditional update still sees it pending and unleased, so two
// workers never process the same job while the lease holds.
func (q queries) ClaimJobs(ctx context.Context, operations []string, limit int, lease time.Duration, workerID string) ([]models.SyncJob, error) {
	ts := now()
	query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM booking_sync_queue
		WHERE status = ? AND is_dead_letter = FALSE
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (locked_until IS NULL OR locked_until <= ?)
		  AND operation IN (?)
		ORDER BY scheduled_at ASC
		LIMIT ?`, models.JobStatusPending, ts, ts, operations, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim query: %w", err)
	}

	var candidates []models.SyncJob
	if err := q.selectAll(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get pending sync jobs: %w", err)
	}

	until := ts.Add(lease)
	claimed := make([]models.SyncJob, 0, len(candidates))
	for _, job := range candidates {
		n, err := q.exec(ctx,
			`UPDATE booking_sync_queue SET locked_until = ?, locked_by = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND is_dead_letter = FALSE
			   AND (locked_until IS NULL OR locked_until <= ?)`,
			until, workerID, ts, job.ID, models.JobStatusPending, ts)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim sync job %s: %w", job.ID, err)
		}
		if n == 0 {
			continue
		}
		job.LockedUntil = &until
		job.LockedBy = &workerID
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// CompleteJob marks a job as completed and releases its lease.
func (q queries) CompleteJob(ctx context.Context, id string) error {
	ts := now()
	return q.updateJob(ctx, id,
		`UPDATE booking_sync_queue SET status = ?, completed_at = ?, locked_until = NULL, locked_by = NULL, updated_at = ?
		 WHERE id = ?`,
		models.JobStatusCompleted, ts, ts, id)
}

// DeferJob reschedules a job without counting an attempt.
func (q queries) DeferJob(ctx context.Context, id string, nextRetryAt time.Time, reason string) error {
	return q.updateJob(ctx, id,
		`UPDATE booking_sync_queue SET next_retry_at = ?, last_error = ?, locked_until = NULL, locked_by = NULL, updated_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), reason, now(), id)
}

// RetryJob records a failed attempt and schedules the next one.
func (q queries) RetryJob(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	return q.updateJob(ctx, id,
		`UPDATE booking_sync_queue SET retry_count = ?, next_retry_at = ?, last_error = ?, locked_until = NULL, locked_by = NULL, updated_at = ?
		 WHERE id = ?`,
		retryCount, nextRetryAt.UTC(), lastError, now(), id)
}

// DeadLetterJob parks a job permanently.
func (q queries) DeadLetterJob(ctx context.Context, id string, retryCount int, lastError string) error {
	ts := now()
	return q.updateJob(ctx, id,
		`UPDATE booking_sync_queue SET status = ?, is_dead_letter = TRUE, retry_count = ?, last_error = ?, completed_at = ?,
			locked_until = NULL, locked_by = NULL, updated_at = ?
		 WHERE id = ?`,
		models.JobStatusFailed, retryCount, lastError, ts, ts, id)
}

// ReleaseJob drops the lease so the job is immediately claimable again.
func (q queries) ReleaseJob(ctx context.Context, id string) error {
	return q.updateJob(ctx, id,
		`UPDATE booking_sync_queue SET locked_until = NULL, locked_by = NULL, updated_at = ? WHERE id = ?`,
		now(), id)
}

// RequeueJob returns a dead-lettered job to the queue with a fresh retry budget.
// The linked event leaves the error state so it can be synced again.
func (q queries) RequeueJob(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.IsDeadLetter {
		return nil, fmt.Errorf("failed to requeue sync job %s: %w", id, ErrNotDeadLettered)
	}

	ts := now()
	err = q.updateJob(ctx, id,
		`UPDATE booking_sync_queue SET status = ?, is_dead_letter = FALSE, retry_count = 0, next_retry_at = NULL,
			last_error = NULL, completed_at = NULL, scheduled_at = ?, updated_at = ?
		 WHERE id = ?`,
		models.JobStatusPending, ts, ts, id)
	if err != nil {
		return nil, err
	}

	if job.EventID != nil {
		if _, err := q.exec(ctx,
			`UPDATE calendar_events SET sync_state = ?, sync_status = ? WHERE id = ?`,
			models.SyncStateIdle, models.SyncStatusPending, *job.EventID); err != nil {
			return nil, fmt.Errorf("failed to reset event %s: %w", *job.EventID, err)
		}
	}
	return q.GetJob(ctx, id)
}

// ListDeadLetters returns parked jobs, newest first.
func (q queries) ListDeadLetters(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	err := q.selectAll(ctx, &jobs,
		`SELECT `+jobColumns+` FROM booking_sync_queue WHERE is_dead_letter = TRUE ORDER BY updated_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-lettered sync jobs: %w", err)
	}
	return jobs, nil
}

func (q queries) updateJob(ctx context.Context, id, query string, args ...interface{}) error {
	n, err := q.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update sync job %s: %w", id, ErrNotFound)
	}
	return nil
}
