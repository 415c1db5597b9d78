package database

import (
	"context"
	"testing"
	"time"

	"bookingsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueue_ClaimEligibility(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	in := createIntegration(t, db, models.ProviderBookeo)

	base := time.Now().UTC().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	first := &models.SyncJob{IntegrationID: in.ID, Operation: models.OperationUpdate, ScheduledAt: base.Add(2 * time.Minute)}
	second := &models.SyncJob{IntegrationID: in.ID, Operation: models.OperationCreate, ScheduledAt: base}
	later := &models.SyncJob{IntegrationID: in.ID, Operation: models.OperationCreate, NextRetryAt: &future}
	parked := &models.SyncJob{IntegrationID: in.ID, Operation: models.OperationCreate, IsDeadLetter: true}
	inbound := &models.SyncJob{IntegrationID: in.ID, Operation: models.OperationWebhook}

	for _, j := range []*models.SyncJob{first, second, later, parked, inbound} {
		require.NoError(t, db.EnqueueJob(ctx, j))
	}
	assert.Equal(t, models.DefaultInboundMaxAttempts, inbound.MaxAttempts)
	assert.Equal(t, models.DefaultOutboundMaxAttempts, first.MaxAttempts)

	outOps := []string{models.OperationCreate, models.OperationUpdate, models.OperationDelete}
	jobs, err := db.ClaimJobs(ctx, outOps, 10, time.Minute, "worker-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// FIFO by scheduled_at
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
	require.NotNil(t, jobs[0].LockedBy)
	assert.Equal(t, "worker-a", *jobs[0].LockedBy)

	// leased jobs are invisible to a second claimant
	jobs, err = db.ClaimJobs(ctx, outOps, 10, time.Minute, "worker-b")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = db.ClaimJobs(ctx, []string{models.OperationWebhook}, 10, time.Minute, "worker-b")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, inbound.ID, jobs[0].ID)
}

func TestSyncQueue_ExpiredLeaseIsReclaimed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	in := createIntegration(t, db, models.ProviderBookeo)

	job := &models.SyncJob{IntegrationID: in.ID, Operation: models.OperationCreate}
	require.NoError(t, db.EnqueueJob(ctx, job))

	jobs, err := db.ClaimJobs(ctx, []string{models.OperationCreate}, 10, -time.Second, "crashed")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = db.ClaimJobs(ctx, []string{models.OperationCreate}, 10, time.Minute, "worker")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "worker", *jobs[0].LockedBy)
}

func TestSyncQueue_Transitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	in := createIntegration(t, db, models.ProviderBookeo)

	start := time.Now().UTC()
	ev := &models.CalendarEvent{UserID: in.UserID, Source: in.Provider, Title: "t", StartTime: start, EndTime: start}
	require.NoError(t, db.CreateEvent(ctx, ev))

	job := &models.SyncJob{IntegrationID: in.ID, EventID: &ev.ID, Operation: models.OperationCreate}
	require.NoError(t, db.EnqueueJob(ctx, job))

	// deferral keeps the retry budget
	next := time.Now().Add(time.Minute)
	require.NoError(t, db.DeferJob(ctx, job.ID, next, "rate limited"))
	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, models.JobStatusPending, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, next, *got.NextRetryAt, time.Second)

	require.NoError(t, db.RetryJob(ctx, job.ID, 2, time.Now().Add(time.Second), "timeout"))
	got, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "timeout", *got.LastError)

	require.NoError(t, db.MarkEventFailed(ctx, ev.ID))
	require.NoError(t, db.DeadLetterJob(ctx, job.ID, 5, "gave up"))
	dead, err := db.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, models.JobStatusFailed, dead[0].Status)
	assert.True(t, dead[0].IsDeadLetter)

	requeued, err := db.RequeueJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.False(t, requeued.IsDeadLetter)
	assert.Equal(t, 0, requeued.RetryCount)
	assert.Nil(t, requeued.NextRetryAt)

	evGot, err := db.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateIdle, evGot.SyncState)

	_, err = db.RequeueJob(ctx, job.ID)
	assert.Error(t, err)

	jobs, err := db.ClaimJobs(ctx, []string{models.OperationCreate}, 10, time.Minute, "w")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, db.CompleteJob(ctx, job.ID))
	got, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Nil(t, got.LockedUntil)
	assert.NotNil(t, got.CompletedAt)
}
