package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the cache named by cfg.Type: "memory" for the Community LRU,
// "redis" for Pro, wrapped in a TwoPhaseCache when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a local LRU in front of Redis. Reads try the LRU
// first and backfill it on a Redis hit; writes land in both, with the
// local copy capped at localTTL so nodes converge after invalidation.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache wires the LRU and Redis layers from cfg.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	localTTL := cfg.LocalTTL
	if localTTL == 0 {
		localTTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:    NewLRUCache(cfg.LocalMaxSize),
		remote:   remote,
		localTTL: localTTL,
	}, nil
}

// Get reads through both layers, backfilling the local layer on a
// Redis hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	}
	return val, nil
}

// Set writes to both layers. The local copy never outlives localTTL even
// when the Redis TTL is longer.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.localTTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetProfile reads a customer profile through both layers.
func (c *TwoPhaseCache) GetProfile(ctx context.Context, tenantID string, customerID string) (*domain.CustomerProfile, error) {
	profile, err := c.local.GetProfile(ctx, tenantID, customerID)
	if err != nil || profile != nil {
		return profile, err
	}

	profile, err = c.remote.GetProfile(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		_ = c.local.SetProfile(ctx, tenantID, customerID, profile, c.localTTL)
	}
	return profile, nil
}

// SetProfile caches a customer profile in both layers.
func (c *TwoPhaseCache) SetProfile(ctx context.Context, tenantID string, customerID string, profile *domain.CustomerProfile, ttl time.Duration) error {
	if err := c.local.SetProfile(ctx, tenantID, customerID, profile, min(ttl, c.localTTL)); err != nil {
		return err
	}
	return c.remote.SetProfile(ctx, tenantID, customerID, profile, ttl)
}

// IncrementCounter goes straight to Redis. Counters must be accurate
// across nodes, so the local layer never holds them.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local cache ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the local layer's statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
