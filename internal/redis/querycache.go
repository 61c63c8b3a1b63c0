package redis

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueryCache caches read-path query results keyed by a fingerprint of the
// query arguments. Each user's keys are tracked in a reverse-index set so
// invalidation deletes exactly that user's entries instead of pattern
// scanning the keyspace.
type QueryCache struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewQueryCache creates a query cache with the given entry TTL.
func NewQueryCache(client *Client, ttl time.Duration, logger *zap.Logger) *QueryCache {
	return &QueryCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Key builds a cache key from a prefix and the full argument tuple. Equal
// arguments always map to the same key.
func (c *QueryCache) Key(prefix string, args any) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal cache args: %w", err)
	}
	sum := md5.Sum(encoded)
	return fmt.Sprintf("qc:%s:%s", prefix, hex.EncodeToString(sum[:])), nil
}

// Get loads a cached value into dest. Returns false on a miss.
func (c *QueryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

// Set stores a value under key and records the key in the user's reverse
// index. The index outlives the entries slightly so invalidation never
// misses a live key.
func (c *QueryCache) Set(ctx context.Context, key, userID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	indexKey := userIndexKey(userID)

	pipe := c.client.rdb.Pipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.SAdd(ctx, indexKey, key)
	pipe.Expire(ctx, indexKey, c.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}

	return nil
}

// InvalidateUser deletes every cached entry recorded for the user.
func (c *QueryCache) InvalidateUser(ctx context.Context, userID string) error {
	indexKey := userIndexKey(userID)

	keys, err := c.client.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("cache index read: %w", err)
	}

	keys = append(keys, indexKey)
	if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}

	c.logger.Debug("user cache invalidated",
		zap.String("user_id", userID),
		zap.Int("keys", len(keys)-1),
	)

	return nil
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("qc:user:%s", userID)
}
