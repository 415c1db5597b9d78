package service

import (
	"context"
	"fmt"

	"bookingsync/internal/database"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
)

// CalendarService applies local edits to calendar events. Every edit is stored
// together with the outbound job that pushes it to the provider.
type CalendarService struct {
	db     *database.DB
	logger *zerolog.Logger
}

func NewCalendarService(db *database.DB, logger *zerolog.Logger) *CalendarService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CalendarService{db: db, logger: logger}
}

// CreateEvent stores a new local event for the integration and queues its creation at the provider.
func (s *CalendarService) CreateEvent(ctx context.Context, integrationID string, booking models.Booking) (*models.CalendarEvent, *models.SyncJob, error) {
	if err := models.ValidateBooking(booking); err != nil {
		return nil, nil, err
	}
	in, err := s.enabledIntegration(ctx, integrationID)
	if err != nil {
		return nil, nil, err
	}

	booking.ExternalID = ""
	ev := &models.CalendarEvent{
		UserID:        in.UserID,
		IntegrationID: &in.ID,
		// Source is the provider so that inbound lookups by (user, source, external id) find it.
		Source: in.Provider,
	}
	ev.ApplyBooking(booking)

	var job *models.SyncJob
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.CreateEvent(ctx, ev); err != nil {
			return err
		}
		job, err = enqueueOutbound(ctx, tx, ev, models.OperationCreate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("event_id", ev.ID).Str("integration_id", in.ID).Msg("Local event created")
	return ev, job, nil
}

// UpdateEvent applies patch to the event and queues the change.
func (s *CalendarService) UpdateEvent(ctx context.Context, eventID string, patch models.BookingPatch) (*models.CalendarEvent, *models.SyncJob, error) {
	ev, err := s.db.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if ev.IntegrationID == nil {
		return nil, nil, ErrNoIntegration
	}
	if _, err := s.enabledIntegration(ctx, *ev.IntegrationID); err != nil {
		return nil, nil, err
	}

	booking := patch.Apply(ev.ToBooking())
	if err := models.ValidateBooking(booking); err != nil {
		return nil, nil, err
	}
	ev.ApplyBooking(booking)

	var job *models.SyncJob
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.UpdateEventContent(ctx, ev); err != nil {
			return err
		}
		job, err = enqueueOutbound(ctx, tx, ev, models.OperationUpdate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return ev, job, nil
}

// CancelEvent marks the event cancelled and queues the cancellation at the provider.
func (s *CalendarService) CancelEvent(ctx context.Context, eventID string) (*models.CalendarEvent, *models.SyncJob, error) {
	ev, err := s.db.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if ev.IntegrationID == nil {
		return nil, nil, ErrNoIntegration
	}
	if ev.Status == models.StatusCancelled {
		return ev, nil, ErrAlreadyCancelled
	}

	ev.Status = models.StatusCancelled
	var job *models.SyncJob
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.UpdateEventContent(ctx, ev); err != nil {
			return err
		}
		job, err = enqueueOutbound(ctx, tx, ev, models.OperationDelete)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("event_id", ev.ID).Msg("Local event cancelled")
	return ev, job, nil
}

func (s *CalendarService) enabledIntegration(ctx context.Context, id string) (*models.Integration, error) {
	in, err := s.db.GetIntegration(ctx, id)
	if err != nil {
		return nil, err
	}
	if !in.IsEnabled {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationDisabled, id)
	}
	return in, nil
}

func enqueueOutbound(ctx context.Context, tx *database.Tx, ev *models.CalendarEvent, operation string) (*models.SyncJob, error) {
	payload, err := models.EncodePayload(models.OutboundPayload{EventID: ev.ID})
	if err != nil {
		return nil, err
	}
	job := &models.SyncJob{
		IntegrationID: *ev.IntegrationID,
		EventID:       &ev.ID,
		Operation:     operation,
		Payload:       payload,
	}
	if err := tx.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
