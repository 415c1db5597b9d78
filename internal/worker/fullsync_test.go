package worker

import (
	"context"
	"testing"
	"time"

	"bookingsync/internal/adapters"
	"bookingsync/internal/database"
	"bookingsync/internal/events"
	"bookingsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullSync_BookeoExample(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.integration(t, models.ProviderBookeo)

	env.adapter.fetchResult = []models.Booking{{
		ExternalID: "B100",
		Title:      "Tour",
		StartTime:  time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC),
		Status:     models.StatusConfirmed,
		Customer:   models.Customer{Name: "Anna"},
	}}

	var finished []events.FullSyncPayload
	env.bus.Subscribe(events.EventFullSyncFinished, func(e *events.Event) error {
		var p events.FullSyncPayload
		require.NoError(t, e.Decode(&p))
		finished = append(finished, p)
		return nil
	})

	started := time.Now()
	res, err := NewFullSync(env.deps).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Total)

	ev, err := env.db.FindEventByExternalID(ctx, in.UserID, models.ProviderBookeo, "B100")
	require.NoError(t, err)
	assert.Equal(t, "Anna", ev.ContactPerson)
	assert.Equal(t, models.ProviderBookeo, ev.Source)
	assert.Equal(t, models.SyncStatusSynced, ev.SyncStatus)
	assert.True(t, time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC).Equal(ev.StartTime))

	stored, err := env.db.GetIntegration(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSyncStatus)
	assert.Equal(t, models.LastSyncSuccess, *stored.LastSyncStatus)
	assert.Equal(t, int64(1), stored.TotalSyncedEvents)
	require.NotNil(t, stored.NextSyncAt)
	assert.WithinDuration(t, started.Add(30*time.Minute), *stored.NextSyncAt, 5*time.Second)

	require.Len(t, env.adapter.fetches, 1)
	window := env.adapter.fetches[0]
	assert.WithinDuration(t, started.AddDate(0, 0, -30), window.Start, 5*time.Second)
	assert.WithinDuration(t, started.AddDate(0, 0, 90), window.End, 5*time.Second)

	require.Len(t, finished, 1)
	assert.True(t, finished[0].Success)
	assert.Equal(t, 1, finished[0].Synced)

	logs, err := env.db.ListSyncLogs(ctx, database.SyncLogFilter{IntegrationID: in.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionFullSync, logs[0].Action)
}

func TestFullSync_OverlappingRunsDoNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.integration(t, fakeProvider)

	booking := models.Booking{
		ExternalID: "B200",
		Title:      "First",
		StartTime:  time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	env.adapter.fetchResult = []models.Booking{booking}
	job := NewFullSync(env.deps)

	_, err := job.Run(ctx)
	require.NoError(t, err)
	first, err := env.db.FindEventByExternalID(ctx, in.UserID, fakeProvider, "B200")
	require.NoError(t, err)

	// not due again until next_sync_at
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)

	booking.Title = "Second"
	env.adapter.fetchResult = []models.Booking{booking}
	require.NoError(t, env.db.ScheduleFullSync(ctx, in.ID, time.Now().Add(-time.Second)))
	_, err = job.Run(ctx)
	require.NoError(t, err)

	n, err := env.db.CountEventsByExternalID(ctx, fakeProvider, "B200")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second, err := env.db.FindEventByExternalID(ctx, in.UserID, fakeProvider, "B200")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Second", second.Title)

	stored, err := env.db.GetIntegration(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.TotalSyncedEvents)
}

func TestFullSync_FailureIsIsolatedPerIntegration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	broken := env.integration(t, "acuity")
	healthy := env.integration(t, fakeProvider)
	env.adapter.fetchResult = []models.Booking{{
		ExternalID: "B300",
		Title:      "Ok",
		StartTime:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}}

	res, err := NewFullSync(env.deps).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)

	b, err := env.db.GetIntegration(ctx, broken.ID)
	require.NoError(t, err)
	require.NotNil(t, b.LastSyncStatus)
	assert.Equal(t, models.LastSyncFailed, *b.LastSyncStatus)
	assert.Equal(t, int64(1), b.FailedSyncs)
	require.NotNil(t, b.NextSyncAt)

	h, err := env.db.GetIntegration(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LastSyncSuccess, *h.LastSyncStatus)
	assert.Equal(t, int64(0), h.FailedSyncs)
}

func TestFullSync_FetchErrorCountsAsFailedSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.integration(t, fakeProvider)
	env.adapter.fetchErr = &adapters.ProviderError{Provider: fakeProvider, StatusCode: 502}

	res, err := NewFullSync(env.deps).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := env.db.GetIntegration(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.FailedSyncs)
	assert.Equal(t, int64(0), stored.TotalSyncedEvents)

	logs, err := env.db.ListSyncLogs(ctx, database.SyncLogFilter{IntegrationID: in.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ErrorMessage)
}

func TestFullSync_SkipsDisabledIntegrations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.integration(t, fakeProvider)
	_, err := env.db.ExecContext(ctx, `UPDATE booking_system_integrations SET is_enabled = FALSE WHERE id = ?`, in.ID)
	require.NoError(t, err)

	res, err := NewFullSync(env.deps).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, env.adapter.fetches)
}

func TestFullSync_ContentlessCancellationKeepsRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	in := env.integration(t, models.ProviderBookeo)

	start := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	env.adapter.fetchResult = []models.Booking{{
		ExternalID: "e1",
		Title:      "Tour",
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Status:     models.StatusConfirmed,
		Customer:   models.Customer{Name: "Anna"},
	}}
	_, err := NewFullSync(env.deps).Run(ctx)
	require.NoError(t, err)

	// deleted provider events are listed with their id and status only
	env.adapter.fetchResult = []models.Booking{
		{ExternalID: "e1", Status: models.StatusCancelled},
		{ExternalID: "never-seen", Status: models.StatusCancelled},
	}
	require.NoError(t, env.db.ScheduleFullSync(ctx, in.ID, time.Now().Add(-time.Second)))

	res, err := NewFullSync(env.deps).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)

	ev, err := env.db.FindEventByExternalID(ctx, in.UserID, models.ProviderBookeo, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, ev.Status)
	assert.Equal(t, "Tour", ev.Title)
	assert.Equal(t, "Anna", ev.ContactPerson)
	assert.True(t, start.Equal(ev.StartTime))
	assert.True(t, start.Add(time.Hour).Equal(ev.EndTime))

	listed, err := env.db.ListEvents(ctx, in.UserID, start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, ev.ID, listed[0].ID)

	n, err := env.db.CountEventsByExternalID(ctx, models.ProviderBookeo, "never-seen")
	require.NoError(t, err)
	assert.Zero(t, n)
}
