package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "agentpass:session:"

// RedisCache stores sessions in Redis so they survive process restarts.
// Expiry is enforced by Redis key TTLs; PruneExpired is a no-op.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheWithClient wraps an existing client, used in tests.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Client exposes the underlying Redis client for health checks.
func (c *RedisCache) Client() *redis.Client { return c.client }

func redisKey(passportID, service string) string {
	return redisKeyPrefix + passportID + ":" + service
}

// Put stores a session with the cache TTL.
func (c *RedisCache) Put(ctx context.Context, sess *Session) error {
	now := time.Now()
	sess.CreatedAt = now
	sess.ExpiresAt = now.Add(c.ttl)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return c.client.Set(ctx, redisKey(sess.PassportID, sess.Service), data, c.ttl).Err()
}

// Get returns the live session or nil.
func (c *RedisCache) Get(ctx context.Context, passportID, service string) (*Session, error) {
	data, err := c.client.Get(ctx, redisKey(passportID, service)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if !sess.Valid() {
		c.client.Del(ctx, redisKey(passportID, service))
		return nil, nil
	}
	return &sess, nil
}

// Delete removes the session if present.
func (c *RedisCache) Delete(ctx context.Context, passportID, service string) error {
	return c.client.Del(ctx, redisKey(passportID, service)).Err()
}

// PruneExpired is a no-op; Redis evicts expired keys itself.
func (c *RedisCache) PruneExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Len counts session keys currently in Redis.
func (c *RedisCache) Len(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
