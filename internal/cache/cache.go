package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/pkg/models"
)

// Cache keeps persisted session state and video list snapshots in Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// New creates a cache from configuration
func New(cfg config.RedisConfig) (*Cache, error) {
	return NewCache(cfg.Host, cfg.Port, cfg.Password, cfg.DB)
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Session Operations

func sessionKey(scope string) string {
	return fmt.Sprintf("session:%s", scope)
}

// SetSessionValue stores one value of a session scope. The ttl applies to
// the whole scope and is refreshed on every write.
func (c *Cache) SetSessionValue(ctx context.Context, scope, key, value string, ttl time.Duration) error {
	k := sessionKey(scope)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, k, key, value)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session value: %w", err)
	}
	return nil
}

// GetSessionValue reads one value of a session scope
func (c *Cache) GetSessionValue(ctx context.Context, scope, key string) (string, bool, error) {
	v, err := c.client.HGet(ctx, sessionKey(scope), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get session value: %w", err)
	}
	return v, true, nil
}

// DeleteSession drops every value of a session scope
func (c *Cache) DeleteSession(ctx context.Context, scope string) error {
	return c.client.Del(ctx, sessionKey(scope)).Err()
}

// ScopedProvider exposes one session scope as a read-only key-value source
type ScopedProvider struct {
	cache *Cache
	scope string
}

// Scoped returns a provider bound to one session scope
func (c *Cache) Scoped(scope string) *ScopedProvider {
	return &ScopedProvider{cache: c, scope: scope}
}

// Lookup reads a value of the bound scope
func (p *ScopedProvider) Lookup(ctx context.Context, key string) (string, bool, error) {
	if p.scope == "" {
		return "", false, nil
	}
	return p.cache.GetSessionValue(ctx, p.scope, key)
}

// Video List Operations

// SetVideoList caches the last fetched video list of a user
func (c *Cache) SetVideoList(ctx context.Context, userID string, videos []models.Video, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("videos:%s", userID), videos, ttl)
}

// GetVideoList returns the cached video list; ok is false on a cache miss
func (c *Cache) GetVideoList(ctx context.Context, userID string) ([]models.Video, bool, error) {
	var videos []models.Video
	found, err := c.GetWithJSON(ctx, fmt.Sprintf("videos:%s", userID), &videos)
	if err != nil || !found {
		return nil, false, err
	}
	return videos, true, nil
}

// DeleteVideoList removes the cached video list of a user
func (c *Cache) DeleteVideoList(ctx context.Context, userID string) error {
	return c.client.Del(ctx, fmt.Sprintf("videos:%s", userID)).Err()
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}
