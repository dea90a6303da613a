// Package cache holds the Redis backed payment lock used when several
// instances share one database.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "payment:lock:"
	defaultRetryDelay = 25 * time.Millisecond
	unlockTimeout     = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is left alone.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// lockClient is the subset of *redis.Client the locker uses.
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisLocker struct {
	client     lockClient
	keyPrefix  string
	retryDelay time.Duration
}

type Option func(*RedisLocker)

func WithKeyPrefix(p string) Option {
	return func(l *RedisLocker) {
		if p != "" {
			l.keyPrefix = p
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func NewRedisLocker(client *redis.Client, opts ...Option) *RedisLocker {
	return newRedisLocker(client, opts...)
}

func newRedisLocker(client lockClient, opts ...Option) *RedisLocker {
	l := &RedisLocker{client: client, keyPrefix: defaultKeyPrefix, retryDelay: defaultRetryDelay}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lock blocks until key is acquired or ctx is done. The lock expires after
// ttl even if unlock is never called.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, errors.New("redis lock: ttl must be positive")
	}
	full := l.keyPrefix + key
	token := uuid.NewString()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(full, token), nil
		}
		timer.Reset(l.retryDelay)
	}
}

func (l *RedisLocker) unlocker(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		// a failed release is bounded by the ttl
		_ = l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
	}
}
