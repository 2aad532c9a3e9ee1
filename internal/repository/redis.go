package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caphe/internal/config"
	"caphe/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStateRepository keeps poll state and rate-limit counters in Redis
// so that restarting the API does not reset poll attempt budgets.
type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
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

func NewRedisStateRepository(client *redis.Client, ttl time.Duration) *RedisStateRepository {
	return &RedisStateRepository{
		client: client,
		ttl:    ttl,
	}
}

func pollStateKey(settlementID int64) string {
	return fmt.Sprintf("poll_state:%d", settlementID)
}

func (r *RedisStateRepository) GetPollState(ctx context.Context, settlementID int64) (*models.PollState, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, pollStateKey(settlementID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll state from redis: %w", err)
	}

	var state models.PollState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal poll state: %w", err)
	}

	return &state, nil
}

func (r *RedisStateRepository) SetPollState(ctx context.Context, state *models.PollState) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal poll state: %w", err)
	}

	if err := r.client.Set(ctx, pollStateKey(state.SettlementID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set poll state in redis: %w", err)
	}

	return nil
}

func (r *RedisStateRepository) ClearPollState(ctx context.Context, settlementID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, pollStateKey(settlementID)).Err(); err != nil {
		return fmt.Errorf("failed to delete poll state from redis: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("rate_limit:%s", clientKey)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
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
