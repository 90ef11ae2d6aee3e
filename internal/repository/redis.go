package repository

import (
	"context"
	"fmt"
	"time"

	"coachbook/internal/config"

	"github.com/redis/go-redis/v9"
)

const attemptKeyPrefix = "coachbook:booking_attempts"

// RedisAttemptLimiter counts booking attempts per client in a fixed window
// shared by every API instance.
type RedisAttemptLimiter struct {
	client *redis.Client
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisAttemptLimiter(client *redis.Client) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{client: client}
}

func (r *RedisAttemptLimiter) CheckRateLimit(ctx context.Context, clientID int64, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("%s:%d", attemptKeyPrefix, clientID)

	// the window is created together with the counter so a failed round-trip
	// can never leave a counter without expiry
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, window)
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to increment booking attempts: %w", err)
	}

	if ttl.Val() < 0 {
		// counter written without a window by an older deployment
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set attempt window: %w", err)
		}
	}

	return incr.Val() <= int64(limit), nil
}

// Reset forgets the attempts of a client.
func (r *RedisAttemptLimiter) Reset(ctx context.Context, clientID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, fmt.Sprintf("%s:%d", attemptKeyPrefix, clientID)).Err(); err != nil {
		return fmt.Errorf("failed to reset booking attempts: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
