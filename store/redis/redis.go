// Package redis provides a Redis-backed store.Store so that limiters running
// on different hosts with the same credential observe one global rate limit.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ryhazerus/restbucket/store"
)

// Compile-time interface check.
var _ store.Store = (*RedisStore)(nil)

const keyPrefix = "restbucket:global:"

// RedisStore is a Store backed by Redis. Each key holds the reset as Unix
// milliseconds and expires at that moment, so stale resets clean themselves up.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// extendScript keeps the later of the stored and the proposed reset.
// Returns the reset in effect.
//
// KEYS[1] = global key
// ARGV[1] = proposed reset, unix milliseconds
var extendScript = redis.NewScript(`
local key = KEYS[1]
local proposed = tonumber(ARGV[1])

local current = tonumber(redis.call("GET", key) or "0")
if proposed > current then
    redis.call("SET", key, tostring(proposed))
    redis.call("PEXPIREAT", key, proposed)
    return proposed
end
return current
`)

// Extend atomically stores resetAt for key unless a later reset exists.
func (r *RedisStore) Extend(ctx context.Context, key string, resetAt time.Time) (time.Time, error) {
	ms, err := extendScript.Run(ctx, r.client, []string{redisKey(key)}, resetAt.UnixMilli()).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("restbucket/store/redis: extend: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// Get returns the stored reset for key.
func (r *RedisStore) Get(ctx context.Context, key string) (time.Time, error) {
	val, err := r.client.Get(ctx, redisKey(key)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("restbucket/store/redis: get: %w", err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("restbucket/store/redis: parse reset: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// List scans every global key.
func (r *RedisStore) List(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), keyPrefix)
		reset, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !reset.IsZero() {
			out[key] = reset
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("restbucket/store/redis: scan: %w", err)
	}
	return out, nil
}

// Reset removes the entry for the given key.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisKey(key string) string {
	return keyPrefix + key
}
