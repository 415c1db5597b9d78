package database

import (
	"context"
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

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateIntegration(ctx, &models.Integration{ID: "int-1", UserID: "u", Provider: models.ProviderBookeo}))

	dir := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.Nop()
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 7}, &logger)

	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)

	snapshot, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer snapshot.Close()
	in, err := snapshot.GetIntegration(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderBookeo, in.Provider)

	t.Run("Cleanup", func(t *testing.T) {
		old := filepath.Join(dir, backupFilePrefix+"old.db")
		foreign := filepath.Join(dir, "keep-me.txt")
		require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o644))
		past := time.Now().AddDate(0, 0, -30)
		require.NoError(t, os.Chtimes(old, past, past))
		require.NoError(t, os.Chtimes(foreign, past, past))

		svc.CleanupOldBackups()

		assert.NoFileExists(t, old)
		assert.FileExists(t, foreign)
		assert.FileExists(t, path)
	})
}

func TestBackupService_Disabled(t *testing.T) {
	db := setupTestDB(t)
	dir := filepath.Join(t.TempDir(), "never")
	svc := NewBackupService(db, config.BackupConfig{Enabled: false, StoragePath: dir}, nil)

	// returns immediately
	svc.Start(context.Background())
	assert.NoDirExists(t, dir)
}

func TestBackupService_StopsWithContext(t *testing.T) {
	db := setupTestDB(t)
	dir := t.TempDir()
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: dir, Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		return len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("backup service did not stop")
	}
}
