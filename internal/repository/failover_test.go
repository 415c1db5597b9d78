package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bookingsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, owner, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) ReleaseLock(ctx context.Context, key, owner string) error {
	args := m.Called(ctx, key, owner)
	return args.Error(0)
}

func (m *mockRepo) PushDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockRepo) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DeadLetterEntry), args.Error(1)
}

func TestFailoverSyncStateRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverSyncStateRepository(primary, fallback, &logger)
	ctx := context.Background()
	key := EventLockKey("ev-1")

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("AcquireLock", ctx, key, "w1", time.Minute).Return(true, nil).Once()

		ok, err := repo.AcquireLock(ctx, key, "w1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("AcquireLock", ctx, key, "w2", time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("AcquireLock", ctx, key, "w2", time.Minute).Return(true, nil).Once()

		ok, err := repo.AcquireLock(ctx, key, "w2", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownUsesFallback", func(t *testing.T) {
		entry := models.DeadLetterEntry{JobID: "j1"}
		fallback.On("PushDeadLetter", ctx, entry).Return(nil).Once()

		assert.NoError(t, repo.PushDeadLetter(ctx, entry))
		fallback.AssertExpectations(t)
	})

	t.Run("ReleaseWhileDownSkipsPrimary", func(t *testing.T) {
		fallback.On("ReleaseLock", ctx, key, "w2").Return(nil).Once()

		assert.NoError(t, repo.ReleaseLock(ctx, key, "w2"))
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		list := []models.DeadLetterEntry{{JobID: "j1"}}
		primary.On("ListDeadLetters", ctx, 10).Return(list, nil).Once()

		got, err := repo.ListDeadLetters(ctx, 10)
		assert.NoError(t, err)
		assert.Equal(t, list, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("ListDeadLetters", ctx, 5).Return(nil, errors.New("still fail")).Once()
		fallback.On("ListDeadLetters", ctx, 5).Return([]models.DeadLetterEntry{}, nil).Once()

		_, err := repo.ListDeadLetters(ctx, 5)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ReleaseOnBothSides", func(t *testing.T) {
		repo.isDown.Store(false)
		fallback.On("ReleaseLock", ctx, key, "w1").Return(nil).Once()
		primary.On("ReleaseLock", ctx, key, "w1").Return(nil).Once()

		assert.NoError(t, repo.ReleaseLock(ctx, key, "w1"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("PushDeadLetterFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		entry := models.DeadLetterEntry{JobID: "j2"}
		primary.On("PushDeadLetter", ctx, entry).Return(errors.New("fail")).Once()
		fallback.On("PushDeadLetter", ctx, entry).Return(nil).Once()

		assert.NoError(t, repo.PushDeadLetter(ctx, entry))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
