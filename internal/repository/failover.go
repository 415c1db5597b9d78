package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bookingsync/internal/domain"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSyncStateRepository uses primary until it errors, then serves from
// fallback and retries primary once a minute.
type FailoverSyncStateRepository struct {
	primary  domain.SyncStateRepository
	fallback domain.SyncStateRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverSyncStateRepository(primary, fallback domain.SyncStateRepository, logger *zerolog.Logger) *FailoverSyncStateRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverSyncStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverSyncStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Try to recover after 1 minute
	if time.Since(r.lastCheck) > time.Minute {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverSyncStateRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary sync state repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverSyncStateRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary sync state repository recovered")
	}
}

func (r *FailoverSyncStateRepository) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireLock(ctx, key, owner, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.AcquireLock(ctx, key, owner, ttl)
}

// ReleaseLock releases on both sides: the lock may have been taken on either.
func (r *FailoverSyncStateRepository) ReleaseLock(ctx context.Context, key, owner string) error {
	_ = r.fallback.ReleaseLock(ctx, key, owner)
	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.ReleaseLock(ctx, key, owner); err != nil {
		r.markDown(err)
	}
	return nil
}

func (r *FailoverSyncStateRepository) PushDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error {
	if r.usePrimary() {
		err := r.primary.PushDeadLetter(ctx, entry)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.PushDeadLetter(ctx, entry)
}

func (r *FailoverSyncStateRepository) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	if r.usePrimary() {
		out, err := r.primary.ListDeadLetters(ctx, limit)
		if err == nil {
			r.markUp()
			return out, nil
		}
		r.markDown(err)
	}
	return r.fallback.ListDeadLetters(ctx, limit)
}
