package models

// Booking status.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Calendar event sync_status.
const (
	SyncStatusSynced  = "synced"
	SyncStatusFailed  = "failed"
	SyncStatusPending = "pending"
)

// Calendar event sync_state.
const (
	SyncStateIdle    = "idle"
	SyncStateSyncing = "syncing"
	SyncStateError   = "error"
)

// Sync job operations.
const (
	OperationCreate  = "create"
	OperationUpdate  = "update"
	OperationDelete  = "delete"
	OperationWebhook = "webhook"
)

// Sync job status.
const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Sync log direction, status and actions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
	LogStatusSkipped = "skipped"

	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionNoop     = "noop"
	ActionFullSync = "full_sync"
)

// Integration last_sync_status.
const (
	LastSyncSuccess = "success"
	LastSyncFailed  = "failed"
)

// Providers.
const (
	ProviderBookeo     = "bookeo"
	ProviderSimplyBook = "simplybook"
	ProviderGoogle     = "google_calendar"
)

const (
	// DefaultOutboundMaxAttempts limits outbound retries before dead-lettering.
	DefaultOutboundMaxAttempts = 5

	// DefaultInboundMaxAttempts limits inbound retries before dead-lettering.
	DefaultInboundMaxAttempts = 3

	// DefaultBatchSize is the number of jobs claimed per run.
	DefaultBatchSize = 10

	// DefaultSyncIntervalMinutes applies when an integration has no interval configured.
	DefaultSyncIntervalMinutes = 60

	// DefaultRateLimitDelay is used when a provider throttles without a Retry-After hint.
	DefaultRateLimitDelay = 60 // seconds

	// FullSyncDaysBack and FullSyncDaysForward bound the full-sync window.
	FullSyncDaysBack    = 30
	FullSyncDaysForward = 90
)
