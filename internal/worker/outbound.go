package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bookingsync/internal/adapters"
	"bookingsync/internal/database"
	"bookingsync/internal/events"
	"bookingsync/internal/models"
	"bookingsync/internal/repository"
)

var outboundOperations = []string{models.OperationCreate, models.OperationUpdate, models.OperationDelete}

// OutboundProcessor pushes local mutations to the providers.
type OutboundProcessor struct {
	base
}

func NewOutboundProcessor(deps Deps) *OutboundProcessor {
	return &OutboundProcessor{base: newBase(deps, "outbound", models.DirectionOutbound)}
}

// Run processes one batch of create/update/delete jobs.
func (p *OutboundProcessor) Run(ctx context.Context) (RunResult, error) {
	return p.runBatch(ctx, outboundOperations, p.process)
}

func (p *OutboundProcessor) process(ctx context.Context, job *models.SyncJob) string {
	at := p.newAttempt(job)

	eventID, err := outboundEventID(job)
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}
	at.eventID = eventID

	in, err := p.loadIntegration(ctx, job.IntegrationID)
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}
	at.provider = in.Provider

	ev, err := p.db.GetEvent(ctx, eventID)
	if errors.Is(err, database.ErrNotFound) {
		return p.fail(ctx, at, nil, adapters.ConfigError("calendar event %s not found", eventID))
	}
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}

	adapter, err := p.adapterFor(in)
	if err != nil {
		return p.fail(ctx, at, nil, err)
	}

	log := p.logger.With().
		Str("job_id", job.ID).
		Str("integration_id", in.ID).
		Str("event_id", ev.ID).
		Str("provider", in.Provider).
		Int("attempt", job.RetryCount+1).
		Logger()

	if p.state != nil {
		lockKey := repository.EventLockKey(ev.ID)
		owner := p.workerID + ":" + job.ID
		locked, err := p.state.AcquireLock(ctx, lockKey, owner, p.settings.LockTTL)
		switch {
		case err != nil:
			// sync_state still guards the event
			log.Warn().Err(err).Msg("event lock unavailable, continuing without it")
		case !locked:
			next := p.now().Add(p.settings.LockRetryDelay)
			if err := p.db.DeferJob(ctx, job.ID, next, "event is being synced by another worker"); err != nil {
				log.Error().Err(err).Msg("failed to defer locked job")
			}
			log.Debug().Msg("event locked, job deferred")
			return resultDeferred
		default:
			defer func() {
				if err := p.state.ReleaseLock(context.WithoutCancel(ctx), lockKey, owner); err != nil {
					log.Warn().Err(err).Msg("failed to release event lock")
				}
			}()
		}
	}

	at.key = adapters.IdempotencyKey(ev.Source, ev.ExternalRef(), ev.ID, ev.SyncVersion)
	if err := p.db.MarkEventSyncing(ctx, ev.ID, at.key); err != nil {
		return p.fail(ctx, at, adapter.Classify, err)
	}

	booking := ev.ToBooking()
	if req, err := adapter.ToExternalFormat(booking); err == nil {
		at.request = req
	}

	externalID, err := p.dispatch(adapters.WithIdempotencyKey(ctx, at.key), adapter, at, ev, booking)
	if err != nil {
		return p.fail(ctx, at, adapter.Classify, err)
	}

	if err := p.db.MarkEventSynced(ctx, ev.ID, externalID, p.now()); err != nil {
		// the provider applied the change; the retry reuses the idempotency key
		return p.fail(ctx, at, nil, fmt.Errorf("record sync of event %s: %w", ev.ID, err))
	}
	p.writeLog(ctx, at, models.LogStatusSuccess, nil)
	if err := p.complete(ctx, at); err != nil {
		log.Error().Err(err).Msg("failed to complete job")
	}
	p.publish(events.EventSyncCompleted, at, externalID, nil)

	log.Info().Str("action", at.action).Str("external_id", externalID).Msg("outbound sync succeeded")
	if at.action == models.ActionNoop {
		return resultNoop
	}
	return resultSuccess
}

// dispatch applies the job operation and returns the provider id of the event.
// A create for an event that already has an external id becomes an update: the
// earlier create reached the provider but its id was never committed locally.
// An update before the first create becomes a create, a delete of a booking that
// never reached the provider is a no-op.
func (p *OutboundProcessor) dispatch(ctx context.Context, a adapters.Adapter, at *attempt, ev *models.CalendarEvent, booking models.Booking) (string, error) {
	externalID := ev.ExternalRef()

	op := at.job.Operation
	switch {
	case op == models.OperationCreate && externalID != "":
		op = models.OperationUpdate
	case op == models.OperationUpdate && externalID == "":
		op = models.OperationCreate
	}

	switch op {
	case models.OperationCreate:
		at.action = models.ActionCreate
		created, err := a.CreateBooking(ctx, booking)
		if err != nil {
			return "", err
		}
		if created.ExternalID == "" {
			return "", &adapters.ProviderError{Provider: a.Provider(), Message: "create returned no booking id"}
		}
		at.response = marshalOrNil(created)
		return created.ExternalID, nil

	case models.OperationUpdate:
		at.action = models.ActionUpdate
		updated, err := a.UpdateBooking(ctx, externalID, models.PatchFromBooking(booking))
		if err != nil {
			return "", err
		}
		at.response = marshalOrNil(updated)
		return externalID, nil

	case models.OperationDelete:
		if externalID == "" {
			at.action = models.ActionNoop
			return "", nil
		}
		at.action = models.ActionDelete
		if err := a.CancelBooking(ctx, externalID); err != nil {
			return "", err
		}
		return externalID, nil
	}
	return "", adapters.ConfigError("unknown outbound operation %q", at.job.Operation)
}

// outboundEventID reads the event id from the job column, then from the payload.
func outboundEventID(job *models.SyncJob) (string, error) {
	if job.EventID != nil && *job.EventID != "" {
		return *job.EventID, nil
	}
	var payload models.OutboundPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err == nil && payload.EventID != "" {
		return payload.EventID, nil
	}
	return "", adapters.ConfigError("job %s has no calendar event", job.ID)
}
