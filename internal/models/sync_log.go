package models

import "time"

// SyncLog is one append-only audit row per processing attempt.
type SyncLog struct {
	ID              string     `db:"id" json:"id"`
	IntegrationID   string     `db:"integration_id" json:"integration_id"`
	JobID           *string    `db:"job_id" json:"job_id,omitempty"`
	EventID         *string    `db:"event_id" json:"event_id,omitempty"`
	Direction       string     `db:"direction" json:"direction"`
	Action          string     `db:"action" json:"action"`
	Status          string     `db:"status" json:"status"`
	RequestPayload  *string    `db:"request_payload" json:"request_payload,omitempty"`
	ResponsePayload *string    `db:"response_payload" json:"response_payload,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	IdempotencyKey  *string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Attempt         int        `db:"attempt" json:"attempt"`
	MaxAttempts     int        `db:"max_attempts" json:"max_attempts"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
