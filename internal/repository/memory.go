package repository

import (
	"context"
	"sync"
	"time"

	"bookingsync/internal/models"
)

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

// MemorySyncStateRepository keeps locks and dead letters in process. It only
// coordinates workers of one process.
type MemorySyncStateRepository struct {
	mu          sync.Mutex
	locks       map[string]lockEntry
	deadLetters []models.DeadLetterEntry
	now         func() time.Time
}

func NewMemorySyncStateRepository() *MemorySyncStateRepository {
	return &MemorySyncStateRepository{
		locks: make(map[string]lockEntry),
		now:   time.Now,
	}
}

func (r *MemorySyncStateRepository) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if cur, ok := r.locks[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	r.locks[key] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemorySyncStateRepository) ReleaseLock(ctx context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.locks[key]; ok && cur.owner == owner {
		delete(r.locks, key)
	}
	return nil
}

func (r *MemorySyncStateRepository) PushDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deadLetters = append([]models.DeadLetterEntry{entry}, r.deadLetters...)
	if len(r.deadLetters) > deadLetterCap {
		r.deadLetters = r.deadLetters[:deadLetterCap]
	}
	return nil
}

func (r *MemorySyncStateRepository) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.deadLetters) {
		limit = len(r.deadLetters)
	}
	return append([]models.DeadLetterEntry(nil), r.deadLetters[:limit]...), nil
}
