package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/racewatch/racewatch/internal/config"
)

// compareAndDeleteScript deletes the key only when it still holds the
// caller's value. Doing the check and delete in one script keeps the release
// atomic; a plain GET+DEL pair could delete a reservation acquired by
// another owner after this one's TTL expired.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore is a Store backed by a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from configuration and verifies
// connectivity.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	password, err := cfg.GetPassword()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetIfAbsent implements Store using SET NX PX.
func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

// CompareAndDelete implements Store using a Lua script.
func (r *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	deleted, err := compareAndDeleteScript.Run(ctx, r.client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
