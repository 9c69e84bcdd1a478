package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis locker
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a crashed holder can block a patient
	TTL time.Duration
	// RetryEvery and MaxRetries shape the linear backoff while waiting
	RetryEvery time.Duration
	MaxRetries int
}

// Redis obtains locks through redislock
type Redis struct {
	client *redis.Client
	locks  *redislock.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedis connects to Redis and pings it
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 100 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 50
	}

	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 6,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}

	return &Redis{
		client: client,
		locks:  redislock.New(client),
		cfg:    cfg,
		logger: logger,
	}, nil
}

var _ Locker = (*Redis)(nil)

// Obtain retries with linear backoff until the lock is free
func (r *Redis) Obtain(ctx context.Context, key string) (Release, error) {
	strategy := redislock.LimitRetry(redislock.LinearBackoff(r.cfg.RetryEvery), r.cfg.MaxRetries)
	l, err := r.locks.Obtain(ctx, key, r.cfg.TTL, &redislock.Options{RetryStrategy: strategy})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
		}
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		err := l.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("lock expired before release", zap.String("key", key), zap.Duration("ttl", r.cfg.TTL))
			return nil
		}
		return err
	}, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
