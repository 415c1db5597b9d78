package worker

import (
	"context"
	"fmt"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/database"
	"bookingsync/internal/events"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
)

// FullSync polls every due integration over a sliding window and upserts what
// the provider returns. It bypasses the queues and catches missed webhooks.
type FullSync struct {
	base
}

func NewFullSync(deps Deps) *FullSync {
	return &FullSync{base: newBase(deps, "fullsync", models.DirectionInbound)}
}

// Run syncs every enabled integration whose next_sync_at is due. A failing
// integration is recorded and the run moves on.
func (f *FullSync) Run(ctx context.Context) (RunResult, error) {
	var res RunResult
	started := f.now()
	due, err := f.db.ListDueIntegrations(ctx, started)
	if err != nil {
		return res, fmt.Errorf("list due integrations: %w", err)
	}
	res.Total = len(due)

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if f.syncIntegration(ctx, &due[i]) {
			res.Processed++
		} else {
			res.Failed++
		}
	}

	res.Message = fmt.Sprintf("full sync: %d of %d integrations synced", res.Processed, res.Total)
	f.logger.Info().Int("processed", res.Processed).Int("failed", res.Failed).Int("total", res.Total).Msg("full sync finished")
	return res, nil
}

func (f *FullSync) syncIntegration(ctx context.Context, in *models.Integration) (ok bool) {
	log := f.logger.With().Str("integration_id", in.ID).Str("provider", in.Provider).Logger()
	started := f.now()
	synced, failed := 0, 0

	var syncErr error
	defer func() {
		if r := recover(); r != nil {
			syncErr = fmt.Errorf("panic during full sync: %v", r)
			log.Error().Interface("panic", r).Msg("full sync panicked")
		}
		ok = syncErr == nil && failed == 0
		f.record(ctx, in, started, synced, failed, syncErr)
	}()

	adapter, err := f.adapterFor(in)
	if err != nil {
		syncErr = err
		log.Error().Err(err).Msg("cannot build adapter")
		return false
	}

	window := adapters.DateRange{
		Start: started.AddDate(0, 0, -f.settings.DaysBack),
		End:   started.AddDate(0, 0, f.settings.DaysForward),
	}
	bookings, err := adapter.FetchBookings(ctx, window)
	if err != nil {
		syncErr = err
		log.Error().Err(err).Str("class", adapter.Classify(err).Class).Msg("fetch bookings failed")
		return false
	}

	for _, b := range bookings {
		if b.ExternalID == "" {
			failed++
			log.Warn().Str("title", b.Title).Msg("provider booking without id skipped")
			continue
		}
		if isBareCancellation(b) {
			stored, found, err := f.cancelStored(ctx, in, b.ExternalID, b.UpdatedAt)
			if err != nil {
				failed++
				log.Error().Err(err).Str("external_id", b.ExternalID).Msg("failed to look up cancelled booking")
				continue
			}
			if !found {
				log.Debug().Str("external_id", b.ExternalID).Msg("cancellation of unknown booking skipped")
				continue
			}
			b = stored
		}
		if _, err := f.db.UpsertProviderEvent(ctx, providerEvent(in, b, f.now())); err != nil {
			failed++
			log.Error().Err(err).Str("external_id", b.ExternalID).Msg("failed to upsert booking")
			continue
		}
		synced++
	}

	log.Info().Int("synced", synced).Int("failed", failed).Int("fetched", len(bookings)).Msg("integration synced")
	return failed == 0
}

// record stores the run on the integration, writes the audit row and publishes the outcome.
func (f *FullSync) record(ctx context.Context, in *models.Integration, started time.Time, synced, failed int, syncErr error) {
	success := syncErr == nil && failed == 0
	done := f.now()
	next := done.Add(time.Duration(in.SyncSettings.Interval(f.settings.DefaultIntervalMinutes)) * time.Minute)

	if err := f.db.RecordFullSync(ctx, in.ID, database.FullSyncResult{
		At:         done,
		Success:    success,
		Synced:     synced,
		NextSyncAt: next,
	}); err != nil {
		f.logger.Error().Err(err).Str("integration_id", in.ID).Msg("failed to record full sync")
	}
	metrics.IncFullSync(in.Provider, success)

	status := models.LogStatusSuccess
	if !success {
		status = models.LogStatusFailed
	}
	entry := &models.SyncLog{
		IntegrationID: in.ID,
		Direction:     models.DirectionInbound,
		Action:        models.ActionFullSync,
		Status:        status,
		Attempt:       1,
		MaxAttempts:   1,
		StartedAt:     started,
		CompletedAt:   &done,
	}
	summary := string(marshalOrNil(map[string]int{"synced": synced, "failed": failed}))
	entry.ResponsePayload = &summary
	if syncErr != nil {
		msg := syncErr.Error()
		entry.ErrorMessage = &msg
	}
	if err := f.db.InsertSyncLog(ctx, entry); err != nil {
		f.logger.Error().Err(err).Str("integration_id", in.ID).Msg("failed to write sync log")
	}

	if f.events != nil {
		payload := events.FullSyncPayload{
			IntegrationID: in.ID,
			Provider:      in.Provider,
			Success:       success,
			Synced:        synced,
			Failed:        failed,
			NextSyncAt:    next,
		}
		if syncErr != nil {
			payload.Error = syncErr.Error()
		}
		if err := f.events.PublishJSON(events.EventFullSyncFinished, payload); err != nil {
			f.logger.Warn().Err(err).Msg("failed to publish full sync event")
		}
	}
}
