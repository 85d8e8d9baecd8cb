package domain

import (
	"context"
	"time"
)

// Cache is the read-side cache in front of the repository. Community
// deployments run on the in-memory LRU; Pro deployments layer it over
// Redis. Every method takes a tenantID so entries never cross tenants.
type Cache interface {
	// Get returns the raw value for key, or nil, nil on a miss.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete drops key if present.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetProfile returns the cached profile for a customer, or nil on
	// a miss.
	GetProfile(ctx context.Context, tenantID string, customerID string) (*CustomerProfile, error)

	// SetProfile caches a customer profile for ttl.
	SetProfile(ctx context.Context, tenantID string, customerID string, profile *CustomerProfile, ttl time.Duration) error

	// IncrementCounter bumps a windowed counter and returns the new
	// count. Used for ingest-rate accounting.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache implementation.
type CacheConfig struct {
	// Type is "memory" (Community) or "redis" (Pro).
	Type string

	// In-memory LRU settings, also the L1 of two-phase caching.
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase layers the LRU in front of Redis.
	EnableTwoPhase bool
}
