package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetJSON decodes the value at key into dest; found is false on a miss
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s failed: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value as JSON with a TTL
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// ClaimOnce sets a marker key if absent; only the first caller gets true.
// Used to keep post-mortem notifications from being sent twice when several
// consumers see the same event.
func (c *Client) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("once:%s", key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s failed: %w", key, err)
	}
	return ok, nil
}

// AcquireLock takes lockKey for token if it is free
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
}

// ReleaseLock drops lockKey only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) (bool, error) {
	res, err := c.releaseScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}
	return res == 1, nil
}

// ExtendLock pushes the expiry of a lock token still owns
func (c *Client) ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	res, err := c.extendScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock script failed: %w", err)
	}
	return res == 1, nil
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
