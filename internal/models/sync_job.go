package models

import (
	"encoding/json"
	"time"
)

// SyncJob represents a queued synchronization job in booking_sync_queue.
type SyncJob struct {
	ID            string     `db:"id" json:"id"`
	IntegrationID string     `db:"integration_id" json:"integration_id"`
	EventID       *string    `db:"event_id" json:"event_id,omitempty"`
	Operation     string     `db:"operation" json:"operation"`
	Payload       string     `db:"payload" json:"payload"`
	Status        string     `db:"status" json:"status"`
	RetryCount    int        `db:"retry_count" json:"retry_count"`
	MaxAttempts   int        `db:"max_attempts" json:"max_attempts"`
	NextRetryAt   *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	IsDeadLetter  bool       `db:"is_dead_letter" json:"is_dead_letter"`
	LastError     *string    `db:"last_error" json:"last_error,omitempty"`
	ScheduledAt   time.Time  `db:"scheduled_at" json:"scheduled_at"`
	LockedUntil   *time.Time `db:"locked_until" json:"-"`
	LockedBy      *string    `db:"locked_by" json:"-"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsOutbound reports whether the job pushes a local mutation to a provider.
func (j *SyncJob) IsOutbound() bool {
	switch j.Operation {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Eligible mirrors the claim predicate used by the store.
func (j *SyncJob) Eligible(now time.Time) bool {
	if j.Status != JobStatusPending || j.IsDeadLetter {
		return false
	}
	if j.NextRetryAt != nil && j.NextRetryAt.After(now) {
		return false
	}
	return j.LockedUntil == nil || !j.LockedUntil.After(now)
}

// OutboundPayload is stored in SyncJob.Payload for create/update/delete jobs.
type OutboundPayload struct {
	EventID string `json:"event_id"`
}

// InboundPayload is stored in SyncJob.Payload for webhook jobs. Raw is the unparsed body.
type InboundPayload struct {
	Raw        string            `json:"raw"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// EncodePayload marshals a job payload into its column form.
func EncodePayload(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
