package models

import "time"

// DeadLetterEntry is the operator-facing summary of a job that stopped retrying.
// It is mirrored outside the database so alerts survive a store outage.
type DeadLetterEntry struct {
	JobID         string    `json:"job_id"`
	IntegrationID string    `json:"integration_id"`
	EventID       string    `json:"event_id,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	Operation     string    `json:"operation"`
	RetryCount    int       `json:"retry_count"`
	Error         string    `json:"error"`
	FailedAt      time.Time `json:"failed_at"`
}

// NewDeadLetterEntry summarizes job after it was dead-lettered with lastErr.
func NewDeadLetterEntry(job *SyncJob, provider, lastErr string, at time.Time) DeadLetterEntry {
	e := DeadLetterEntry{
		JobID:         job.ID,
		IntegrationID: job.IntegrationID,
		Provider:      provider,
		Operation:     job.Operation,
		RetryCount:    job.RetryCount,
		Error:         lastErr,
		FailedAt:      at.UTC(),
	}
	if job.EventID != nil {
		e.EventID = *job.EventID
	}
	return e
}
