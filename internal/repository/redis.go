package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"splitsync/internal/config"
	"splitsync/internal/domain"

	"github.com/redis/go-redis/v9"
)

const deadLetterKey = "splitsync:dead_letters"

// RedisDeadLetterRepository keeps the newest dropped mutations in a capped Redis list.
type RedisDeadLetterRepository struct {
	client *redis.Client
	max    int64
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisDeadLetterRepository(client *redis.Client, max int64) *RedisDeadLetterRepository {
	return &RedisDeadLetterRepository{
		client: client,
		max:    max,
	}
}

func (r *RedisDeadLetterRepository) Push(ctx context.Context, letter *domain.DeadLetter) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, deadLetterKey, data)
	if r.max > 0 {
		pipe.LTrim(ctx, deadLetterKey, 0, r.max-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter to redis: %w", err)
	}
	return nil
}

// List returns up to limit letters, newest first. A non-positive limit returns all.
func (r *RedisDeadLetterRepository) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := r.client.LRange(ctx, deadLetterKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	letters := make([]*domain.DeadLetter, 0, len(values))
	for _, val := range values {
		var letter domain.DeadLetter
		if err := json.Unmarshal([]byte(val), &letter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		letters = append(letters, &letter)
	}
	return letters, nil
}

func (r *RedisDeadLetterRepository) Count(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
