package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require projectID for strict project isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, projectID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, projectID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, projectID string, key string) error

	// GetDefinitions retrieves the cached active definition set for a
	// project and category. Returns nil, nil on miss.
	GetDefinitions(ctx context.Context, projectID string, category DefinitionCategory) ([]*AlertDefinition, error)

	// SetDefinitions caches the active definition set.
	SetDefinitions(ctx context.Context, projectID string, category DefinitionCategory, defs []*AlertDefinition, ttl time.Duration) error

	// GetCompanyName retrieves a cached business company name.
	// Returns "", nil on miss.
	GetCompanyName(ctx context.Context, projectID string, businessID string) (string, error)

	// SetCompanyName caches a business company name.
	SetCompanyName(ctx context.Context, projectID string, businessID string, name string, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the
	// new value. Used to number sweep runs within a window.
	IncrementCounter(ctx context.Context, projectID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
