package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNilRedisStore is returned when a RedisStore pointer is nil or uninitialized.
var ErrNilRedisStore = errors.New("redis store is nil")

// RedisStore wraps a redis client.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func clientIDKey(scope, cookie, key string) string {
	return fmt.Sprintf("cid:%s:%s:%s", scope, cookie, key)
}

// GetClientID returns the stored client id for (scope, cookie, key).
// A missing id returns "" and no error.
func (r *RedisStore) GetClientID(ctx context.Context, scope, cookie, key string) (string, error) {
	if r == nil || r.Client == nil {
		return "", ErrNilRedisStore
	}
	v, err := r.Client.Get(ctx, clientIDKey(scope, cookie, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// SetClientIDIfAbsent stores id unless one already exists and returns the
// id that is stored afterwards. ttl of 0 keeps the id forever.
func (r *RedisStore) SetClientIDIfAbsent(ctx context.Context, scope, cookie, key, id string, ttl time.Duration) (string, error) {
	if r == nil || r.Client == nil {
		return "", ErrNilRedisStore
	}
	k := clientIDKey(scope, cookie, key)
	ok, err := r.Client.SetNX(ctx, k, id, ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	return r.Client.Get(ctx, k).Result()
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
