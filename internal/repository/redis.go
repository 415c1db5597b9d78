package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	deadLetterKey = "sync:dead_letters"
	// deadLetterCap bounds the mirror list; the database keeps the full history.
	deadLetterCap = 1000
)

// EventLockKey is the lock guarding outbound processing of one calendar event.
func EventLockKey(eventID string) string {
	return "sync:lock:event:" + eventID
}

// releaseScript deletes a lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisSyncStateRepository struct {
	client *redis.Client
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisSyncStateRepository(client *redis.Client) *RedisSyncStateRepository {
	return &RedisSyncStateRepository{client: client}
}

func (r *RedisSyncStateRepository) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisSyncStateRepository) ReleaseLock(ctx context.Context, key, owner string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := releaseScript.Run(ctx, r.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

func (r *RedisSyncStateRepository) PushDeadLetter(ctx context.Context, entry models.DeadLetterEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, deadLetterKey, data)
	pipe.LTrim(ctx, deadLetterKey, 0, deadLetterCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (r *RedisSyncStateRepository) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 || limit > deadLetterCap {
		limit = deadLetterCap
	}
	vals, err := r.client.LRange(ctx, deadLetterKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	out := make([]models.DeadLetterEntry, 0, len(vals))
	for _, v := range vals {
		var e models.DeadLetterEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
