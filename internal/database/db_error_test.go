package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()
	now := time.Now()

	t.Run("CreateEvent_Error", func(t *testing.T) {
		assert.Error(t, db.CreateEvent(ctx, &models.CalendarEvent{}))
	})

	t.Run("UpsertProviderEvent_Error", func(t *testing.T) {
		ext := "B1"
		_, err := db.UpsertProviderEvent(ctx, &models.CalendarEvent{ExternalID: &ext})
		assert.Error(t, err)
	})

	t.Run("EnqueueJob_Error", func(t *testing.T) {
		assert.Error(t, db.EnqueueJob(ctx, &models.SyncJob{Operation: models.OperationCreate}))
	})

	t.Run("ClaimJobs_Error", func(t *testing.T) {
		_, err := db.ClaimJobs(ctx, []string{models.OperationCreate}, 10, time.Minute, "w")
		assert.Error(t, err)
	})

	t.Run("ListDueIntegrations_Error", func(t *testing.T) {
		_, err := db.ListDueIntegrations(ctx, now)
		assert.Error(t, err)
	})

	t.Run("InsertSyncLog_Error", func(t *testing.T) {
		assert.Error(t, db.InsertSyncLog(ctx, &models.SyncLog{StartedAt: now}))
	})

	t.Run("WithTx_Error", func(t *testing.T) {
		called := false
		err := db.WithTx(ctx, func(*Tx) error { called = true; return nil })
		assert.Error(t, err)
		assert.False(t, called)
	})
}

func TestNewDB_Error(t *testing.T) {
	logger := zerolog.New(io.Discard)
	_, err := NewDB(t.TempDir(), &logger)
	assert.Error(t, err)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestBackupService_StorageError(t *testing.T) {
	db := setupTestDB(t)
	file := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	// a file in place of the directory makes MkdirAll fail
	bs := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: filepath.Join(file, "sub")}, nil)
	_, err := bs.PerformBackup(context.Background())
	assert.Error(t, err)
}
