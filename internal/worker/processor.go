// Package worker runs the sync engine batches: the outbound queue processor,
// the inbound queue processor and the periodic full sync. Each Run claims a
// bounded batch, processes it sequentially and returns a summary.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/config"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/events"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job outcomes.
const (
	resultSuccess    = "success"
	resultNoop       = "noop"
	resultRetry      = "retry"
	resultDeferred   = "deferred"
	resultDeadLetter = "dead_letter"
)

// Settings tunes the processors.
type Settings struct {
	BatchSize           int
	OutboundMaxAttempts int
	InboundMaxAttempts  int
	Retry               RetryPolicy
	RateLimitDelay      time.Duration
	ClaimLease          time.Duration
	LockTTL             time.Duration
	// LockRetryDelay postpones a job whose event is held by another worker.
	LockRetryDelay         time.Duration
	DaysBack               int
	DaysForward            int
	DefaultIntervalMinutes int
}

// SettingsFromConfig maps the sync section of the config.
func SettingsFromConfig(cfg config.SyncConfig) Settings {
	return Settings{
		BatchSize:           cfg.BatchSize,
		OutboundMaxAttempts: cfg.OutboundMaxAttempts,
		InboundMaxAttempts:  cfg.InboundMaxAttempts,
		Retry: RetryPolicy{
			InitialDelay:  cfg.InitialBackoff,
			MaxDelay:      cfg.MaxBackoff,
			BackoffFactor: 2,
		},
		RateLimitDelay:         cfg.RateLimitDelay,
		ClaimLease:             cfg.ClaimLease,
		LockTTL:                cfg.LockTTL,
		DaysBack:               cfg.FullSync.DaysBack,
		DaysForward:            cfg.FullSync.DaysForward,
		DefaultIntervalMinutes: cfg.FullSync.DefaultIntervalMinutes,
	}
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = models.DefaultBatchSize
	}
	if s.OutboundMaxAttempts <= 0 {
		s.OutboundMaxAttempts = models.DefaultOutboundMaxAttempts
	}
	if s.InboundMaxAttempts <= 0 {
		s.InboundMaxAttempts = models.DefaultInboundMaxAttempts
	}
	if s.Retry.InitialDelay == 0 && s.Retry.MaxDelay == 0 {
		s.Retry = DefaultRetryPolicy()
	}
	if s.RateLimitDelay <= 0 {
		s.RateLimitDelay = models.DefaultRateLimitDelay * time.Second
	}
	if s.ClaimLease <= 0 {
		s.ClaimLease = 5 * time.Minute
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 2 * time.Minute
	}
	if s.LockRetryDelay <= 0 {
		s.LockRetryDelay = 5 * time.Second
	}
	if s.DaysBack <= 0 {
		s.DaysBack = models.FullSyncDaysBack
	}
	if s.DaysForward <= 0 {
		s.DaysForward = models.FullSyncDaysForward
	}
	if s.DefaultIntervalMinutes <= 0 {
		s.DefaultIntervalMinutes = models.DefaultSyncIntervalMinutes
	}
	return s
}

// Deps are the collaborators shared by every processor. State and Events are optional.
type Deps struct {
	DB          *database.DB
	Factory     domain.AdapterFactory
	Credentials domain.CredentialOpener
	State       domain.SyncStateRepository
	Events      domain.EventPublisher
	Settings    Settings
	Logger      *zerolog.Logger
}

// RunResult is the JSON summary returned by every trigger.
// Processed + Failed + Deferred = Total; Skipped counts the no-op part of Processed.
type RunResult struct {
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	Deferred  int    `json:"deferred"`
	Skipped   int    `json:"skipped"`
}

func (r *RunResult) add(result string) {
	switch result {
	case resultSuccess:
		r.Processed++
	case resultNoop:
		r.Processed++
		r.Skipped++
	case resultDeferred:
		r.Deferred++
	default:
		r.Failed++
	}
}

// base carries the plumbing shared by the queue processors.
type base struct {
	db        *database.DB
	factory   domain.AdapterFactory
	creds     domain.CredentialOpener
	state     domain.SyncStateRepository
	events    domain.EventPublisher
	settings  Settings
	logger    zerolog.Logger
	workerID  string
	direction string
	now       func() time.Time
}

func newBase(deps Deps, component, direction string) base {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	host, _ := os.Hostname()
	return base{
		db:        deps.DB,
		factory:   deps.Factory,
		creds:     deps.Credentials,
		state:     deps.State,
		events:    deps.Events,
		settings:  deps.Settings.withDefaults(),
		logger:    logger.With().Str("component", component).Logger(),
		workerID:  fmt.Sprintf("%s:%s:%s", component, host, uuid.NewString()[:8]),
		direction: direction,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (b *base) adapterFor(in *models.Integration) (adapters.Adapter, error) {
	return domain.BuildAdapter(b.factory, b.creds, in)
}

// loadIntegration turns a missing row into a configuration error.
func (b *base) loadIntegration(ctx context.Context, id string) (*models.Integration, error) {
	in, err := b.db.GetIntegration(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, adapters.ConfigError("integration %s not found", id)
	}
	return in, err
}

// isBareCancellation reports a cancelled booking that carries no schedule, such
// as a deleted Google event listed as just its id and status.
func isBareCancellation(booking models.Booking) bool {
	return models.NormalizeStatus(booking.Status) == models.StatusCancelled &&
		booking.StartTime.IsZero() && booking.EndTime.IsZero()
}

// cancelStored turns a content-less cancellation into a status change of the
// stored row. found is false when the booking has no local row. changedAt is
// the provider's change time; the current time is used when it is unset.
func (b *base) cancelStored(ctx context.Context, in *models.Integration, externalID string, changedAt *time.Time) (models.Booking, bool, error) {
	existing, err := b.db.FindEventByExternalID(ctx, in.UserID, in.Provider, externalID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Booking{}, false, nil
	}
	if err != nil {
		return models.Booking{}, false, err
	}
	booking := existing.ToBooking()
	booking.Status = models.StatusCancelled
	ts := b.now()
	if changedAt != nil && !changedAt.IsZero() {
		ts = changedAt.UTC()
	}
	booking.UpdatedAt = &ts
	return booking, true, nil
}

func (b *base) maxAttempts(job *models.SyncJob) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	if job.Operation == models.OperationWebhook {
		return b.settings.InboundMaxAttempts
	}
	return b.settings.OutboundMaxAttempts
}

// attempt is the bookkeeping of one job attempt, turned into a sync log row.
type attempt struct {
	job       *models.SyncJob
	provider  string
	eventID   string
	action    string
	key       string
	request   []byte
	response  []byte
	startedAt time.Time
}

func (b *base) newAttempt(job *models.SyncJob) *attempt {
	a := &attempt{job: job, action: job.Operation, startedAt: b.now()}
	if job.EventID != nil {
		a.eventID = *job.EventID
	}
	return a
}

func (b *base) writeLog(ctx context.Context, at *attempt, status string, cause error) {
	done := b.now()
	entry := &models.SyncLog{
		IntegrationID: at.job.IntegrationID,
		JobID:         &at.job.ID,
		Direction:     b.direction,
		Action:        at.action,
		Status:        status,
		Attempt:       at.job.RetryCount + 1,
		MaxAttempts:   b.maxAttempts(at.job),
		StartedAt:     at.startedAt,
		CompletedAt:   &done,
	}
	if at.eventID != "" {
		entry.EventID = &at.eventID
	}
	if at.key != "" {
		entry.IdempotencyKey = &at.key
	}
	if len(at.request) > 0 {
		s := string(at.request)
		entry.RequestPayload = &s
	}
	if len(at.response) > 0 {
		s := string(at.response)
		entry.ResponsePayload = &s
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	if err := b.db.InsertSyncLog(ctx, entry); err != nil {
		b.logger.Error().Err(err).Str("job_id", at.job.ID).Msg("failed to write sync log")
	}
}

func (b *base) publish(eventType string, at *attempt, externalID string, cause error) {
	if b.events == nil {
		return
	}
	payload := events.JobEventPayload{
		JobID:         at.job.ID,
		IntegrationID: at.job.IntegrationID,
		EventID:       at.eventID,
		ExternalID:    externalID,
		Provider:      at.provider,
		Direction:     b.direction,
		Operation:     at.job.Operation,
		Action:        at.action,
		RetryCount:    at.job.RetryCount,
		At:            b.now(),
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := b.events.PublishJSON(eventType, payload); err != nil {
		b.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish sync event")
	}
}

// fail applies the retry policy to a failed attempt. classify is the adapter's
// predicate when one was built, adapters.Classify otherwise.
//
// rate limited: deferred by the provider hint, retry_count untouched.
// terminal: dead-lettered at once.
// transient: retried with backoff until max_attempts, then dead-lettered.
func (b *base) fail(ctx context.Context, at *attempt, classify func(error) adapters.Failure, cause error) string {
	if classify == nil {
		classify = adapters.Classify
	}
	job := at.job
	failure := classify(cause)
	log := b.logger.With().
		Str("job_id", job.ID).
		Str("integration_id", job.IntegrationID).
		Str("event_id", at.eventID).
		Str("provider", at.provider).
		Int("attempt", job.RetryCount+1).
		Str("class", failure.Class).
		Logger()

	if failure.Class == adapters.ClassRateLimited {
		delay := failure.RetryAfter
		if delay <= 0 {
			delay = b.settings.RateLimitDelay
		}
		b.writeLog(ctx, at, models.LogStatusSkipped, cause)
		if err := b.db.DeferJob(ctx, job.ID, b.now().Add(delay), cause.Error()); err != nil {
			log.Error().Err(err).Msg("failed to defer rate limited job")
		}
		log.Warn().Err(cause).Dur("retry_after", delay).Msg("provider rate limit, job deferred")
		return resultDeferred
	}

	b.writeLog(ctx, at, models.LogStatusFailed, cause)
	retryCount := job.RetryCount + 1
	if failure.Class == adapters.ClassTerminal || retryCount >= b.maxAttempts(job) {
		b.deadLetter(ctx, at, retryCount, cause)
		log.Error().Err(cause).Int("retry_count", retryCount).Msg("sync job dead-lettered")
		return resultDeadLetter
	}

	next := b.now().Add(b.settings.Retry.Backoff(retryCount))
	if err := b.db.RetryJob(ctx, job.ID, retryCount, next, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to reschedule job")
	}
	if at.eventID != "" && job.IsOutbound() {
		if err := b.db.SetEventSyncState(ctx, at.eventID, models.SyncStateIdle); err != nil && !errors.Is(err, database.ErrNotFound) {
			log.Error().Err(err).Msg("failed to reset event sync state")
		}
	}
	log.Warn().Err(cause).Int("retry_count", retryCount).Time("next_retry_at", next).Msg("sync job failed, will retry")
	return resultRetry
}

func (b *base) deadLetter(ctx context.Context, at *attempt, retryCount int, cause error) {
	job := at.job
	if err := b.db.DeadLetterJob(ctx, job.ID, retryCount, cause.Error()); err != nil {
		b.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to dead-letter job")
	}
	job.RetryCount = retryCount
	if at.eventID != "" && job.IsOutbound() {
		if err := b.db.MarkEventFailed(ctx, at.eventID); err != nil && !errors.Is(err, database.ErrNotFound) {
			b.logger.Error().Err(err).Str("event_id", at.eventID).Msg("failed to mark event failed")
		}
	}
	if b.state != nil {
		entry := models.NewDeadLetterEntry(job, at.provider, cause.Error(), b.now())
		if err := b.state.PushDeadLetter(ctx, entry); err != nil {
			b.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mirror dead letter")
		}
	}
	b.publish(events.EventSyncDeadLettered, at, "", cause)
}

func (b *base) complete(ctx context.Context, at *attempt) error {
	if err := b.db.CompleteJob(ctx, at.job.ID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// runBatch claims jobs of the given operations and hands each to process.
func (b *base) runBatch(ctx context.Context, operations []string, process func(context.Context, *models.SyncJob) string) (RunResult, error) {
	var res RunResult
	jobs, err := b.db.ClaimJobs(ctx, operations, b.settings.BatchSize, b.settings.ClaimLease, b.workerID)
	if err != nil {
		return res, fmt.Errorf("claim %s jobs: %w", b.direction, err)
	}
	res.Total = len(jobs)

	for i := range jobs {
		if ctx.Err() != nil {
			// unprocessed claims go back to the queue
			for _, rest := range jobs[i:] {
				_ = b.db.ReleaseJob(context.Background(), rest.ID)
				res.Deferred++
			}
			break
		}
		started := time.Now()
		result := b.safeProcess(ctx, &jobs[i], process)
		metrics.ObserveJob(b.direction, result, time.Since(started))
		res.add(result)
	}

	res.Message = fmt.Sprintf("%s sync: processed %d of %d jobs", b.direction, res.Processed, res.Total)
	b.logger.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("deferred", res.Deferred).
		Int("total", res.Total).
		Msg("batch finished")
	return res, nil
}

// safeProcess keeps one job's panic from aborting the batch.
func (b *base) safeProcess(ctx context.Context, job *models.SyncJob, process func(context.Context, *models.SyncJob) string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic while processing job: %v", r)
			b.logger.Error().Str("job_id", job.ID).Interface("panic", r).Msg("sync job panicked")
			result = b.fail(ctx, b.newAttempt(job), nil, cause)
		}
	}()
	return process(ctx, job)
}

func marshalOrNil(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
