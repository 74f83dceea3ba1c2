package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/harrier/internal/domain"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, projectID string, key string) ([]byte, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	fullKey := c.makeKey(projectID, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, projectID string, key string, value []byte, ttl time.Duration) error {
	if projectID == "" {
		return fmt.Errorf("projectID is required")
	}

	fullKey := c.makeKey(projectID, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, projectID string, key string) error {
	if projectID == "" {
		return fmt.Errorf("projectID is required")
	}

	fullKey := c.makeKey(projectID, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetDefinitions retrieves the cached active definition set.
func (c *RedisCache) GetDefinitions(ctx context.Context, projectID string, category domain.DefinitionCategory) ([]*domain.AlertDefinition, error) {
	data, err := c.Get(ctx, projectID, definitionsKey(category))
	if err != nil || data == nil {
		return nil, err
	}

	var defs []*domain.AlertDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// SetDefinitions caches the active definition set.
func (c *RedisCache) SetDefinitions(ctx context.Context, projectID string, category domain.DefinitionCategory, defs []*domain.AlertDefinition, ttl time.Duration) error {
	data, err := json.Marshal(defs)
	if err != nil {
		return err
	}
	return c.Set(ctx, projectID, definitionsKey(category), data, ttl)
}

// GetCompanyName retrieves a cached business company name.
func (c *RedisCache) GetCompanyName(ctx context.Context, projectID string, businessID string) (string, error) {
	data, err := c.Get(ctx, projectID, companyKey(businessID))
	if err != nil || data == nil {
		return "", err
	}
	return string(data), nil
}

// SetCompanyName caches a business company name.
func (c *RedisCache) SetCompanyName(ctx context.Context, projectID string, businessID string, name string, ttl time.Duration) error {
	return c.Set(ctx, projectID, companyKey(businessID), []byte(name), ttl)
}

// IncrementCounter atomically increments a counter using Redis INCR with EXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, projectID string, key string, window time.Duration) (int64, error) {
	if projectID == "" {
		return 0, fmt.Errorf("projectID is required")
	}

	fullKey := c.makeKey(projectID, "counter:"+key)

	// Use Lua script for atomic increment with TTL
	script := redis.NewScript(`
		local current = redis.call('INCR', KEYS[1])
		if current == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return current
	`)

	result, err := script.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}

	return result, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(projectID, key string) string {
	return "harrier:" + projectID + ":" + key
}
