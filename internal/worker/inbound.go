package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/database"
	"bookingsync/internal/events"
	"bookingsync/internal/models"
)

var inboundOperations = []string{models.OperationWebhook}

// InboundProcessor reconciles queued provider webhooks into calendar_events.
// Conflicts resolve by last writer wins: inbound data that is not strictly newer
// than the local row is discarded.
type InboundProcessor struct {
	base
}

func NewInboundProcessor(deps Deps) *InboundProcessor {
	return &InboundProcessor{base: newBase(deps, "inbound", models.DirectionInbound)}
}

// Run processes one batch of webhook jobs.
func (p *InboundProcessor) Run(ctx context.Context) (RunResult, error) {
	return p.runBatch(ctx, inboundOperations, p.process)
}

func (p *InboundProcessor) process(ctx context.Context, job *models.SyncJob) string {
	at := p.newAttempt(job)

	var payload models.InboundPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return p.fail(ctx, at, nil, fmt.Errorf("%w: job payload: %v", adapters.ErrMalformedPayload, err))
	}
	at.request = []byte(payload.Raw)

	in, err := p.loadIntegration(ctx, job.IntegrationID)
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}
	at.provider = in.Provider

	adapter, err := p.adapterFor(in)
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}

	log := p.logger.With().
		Str("job_id", job.ID).
		Str("integration_id", in.ID).
		Str("provider", in.Provider).
		Int("attempt", job.RetryCount+1).
		Logger()

	evt, err := adapter.ParseWebhookEvent([]byte(payload.Raw))
	if err != nil {
		return p.fail(ctx, at, adapter.Classify, err)
	}

	switch evt.Type {
	case adapters.EventIgnored:
		at.action = models.ActionNoop
		return p.finish(ctx, at, models.LogStatusSkipped, resultNoop)

	case adapters.EventResync:
		if evt.ExternalID == "" {
			// the provider only said that something changed
			at.action = models.ActionFullSync
			if err := p.db.ScheduleFullSync(ctx, in.ID, p.now()); err != nil {
				return p.fail(ctx, at, nil, err)
			}
			log.Info().Msg("change notification without details, full sync scheduled")
			return p.finish(ctx, at, models.LogStatusSuccess, resultSuccess)
		}
	}

	booking, found, err := p.resolveBooking(ctx, adapter, in, evt)
	if err != nil {
		return p.fail(ctx, at, adapter.Classify, err)
	}
	if !found {
		// cancellation of a booking this system never saw
		at.action = models.ActionNoop
		log.Info().Str("external_id", evt.ExternalID).Msg("cancellation for unknown booking ignored")
		return p.finish(ctx, at, models.LogStatusSkipped, resultNoop)
	}

	ev, action, err := p.reconcile(ctx, in, booking)
	at.action = action
	if ev != nil && ev.ID != "" {
		at.eventID = ev.ID
	}
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}

	if action == models.ActionNoop {
		p.publish(events.EventInboundDiscarded, at, booking.ExternalID, nil)
		log.Info().Str("external_id", booking.ExternalID).Msg("inbound change is not newer than local event, discarded")
		return p.finish(ctx, at, models.LogStatusSkipped, resultNoop)
	}

	at.response = marshalOrNil(ev)
	log.Info().Str("action", action).Str("external_id", booking.ExternalID).Str("event_id", ev.ID).Msg("inbound sync applied")
	p.publish(events.EventSyncCompleted, at, booking.ExternalID, nil)
	return p.finish(ctx, at, models.LogStatusSuccess, resultSuccess)
}

func (p *InboundProcessor) finish(ctx context.Context, at *attempt, status, result string) string {
	p.writeLog(ctx, at, status, nil)
	if err := p.complete(ctx, at); err != nil {
		p.logger.Error().Err(err).Str("job_id", at.job.ID).Msg("failed to complete job")
	}
	return result
}

// resolveBooking turns a webhook event into a canonical booking. found is false
// when a cancellation without booking content names a booking that has no local row.
func (p *InboundProcessor) resolveBooking(ctx context.Context, a adapters.Adapter, in *models.Integration, evt adapters.WebhookEvent) (models.Booking, bool, error) {
	var (
		booking models.Booking
		err     error
	)
	switch {
	case len(evt.Booking) > 0:
		booking, err = a.ToInternalFormat(evt.Booking)
		if err != nil {
			return booking, false, fmt.Errorf("%w: %v", adapters.ErrMalformedPayload, err)
		}
		if evt.IsCancellation() {
			booking.Status = models.StatusCancelled
		}
		if isBareCancellation(booking) {
			id := booking.ExternalID
			if id == "" {
				id = evt.ExternalID
			}
			if id == "" {
				return booking, false, fmt.Errorf("%w: cancellation without booking id", adapters.ErrMalformedPayload)
			}
			return p.cancelStored(ctx, in, id, booking.UpdatedAt)
		}
	case evt.IsCancellation():
		if evt.ExternalID == "" {
			return booking, false, fmt.Errorf("%w: cancellation without booking id", adapters.ErrMalformedPayload)
		}
		// a deletion carries no timestamp of its own
		return p.cancelStored(ctx, in, evt.ExternalID, nil)
	case evt.ExternalID != "":
		booking, err = a.GetBooking(ctx, evt.ExternalID)
		if err != nil {
			return booking, false, err
		}
	default:
		return booking, false, fmt.Errorf("%w: event %q carries no booking", adapters.ErrMalformedPayload, evt.Type)
	}

	if booking.ExternalID == "" {
		booking.ExternalID = evt.ExternalID
	}
	if booking.ExternalID == "" {
		return booking, false, fmt.Errorf("%w: booking without external id", adapters.ErrMalformedPayload)
	}
	if evt.IsCancellation() {
		booking.Status = models.StatusCancelled
	}
	return booking, true, nil
}

// reconcile applies last writer wins against the local row keyed on
// (user_id, source, external_id) and upserts when the inbound booking is newer.
func (p *InboundProcessor) reconcile(ctx context.Context, in *models.Integration, booking models.Booking) (*models.CalendarEvent, string, error) {
	action := models.ActionCreate
	existing, err := p.db.FindEventByExternalID(ctx, in.UserID, in.Provider, booking.ExternalID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, models.ActionCreate, err
	default:
		action = models.ActionUpdate
		if !booking.Timestamp().After(existing.UpdatedAt) {
			return existing, models.ActionNoop, nil
		}
	}

	ev := providerEvent(in, booking, p.now())
	if _, err := p.db.UpsertProviderEvent(ctx, ev); err != nil {
		return nil, action, err
	}
	return ev, action, nil
}

// providerEvent projects a provider booking onto a row owned by the integration.
// updated_at is the provider's change time when it reports one.
func providerEvent(in *models.Integration, booking models.Booking, now time.Time) *models.CalendarEvent {
	integrationID := in.ID
	ev := &models.CalendarEvent{
		UserID:        in.UserID,
		IntegrationID: &integrationID,
		Source:        in.Provider,
		UpdatedAt:     now,
	}
	ev.ApplyBooking(booking)
	if booking.UpdatedAt != nil && !booking.UpdatedAt.IsZero() {
		ev.UpdatedAt = booking.UpdatedAt.UTC()
	}
	return ev
}
