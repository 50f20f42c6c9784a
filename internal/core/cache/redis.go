// Package cache provides a Redis-backed cache for customer lookup results.
//
// Customer records are immutable once created, so positive lookups can be cached
// without invalidation. Misses are never cached: a phone number that is unknown now
// may be registered a moment later.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duynhne/registration-service/config"
	"github.com/duynhne/registration-service/internal/core/domain"
)

const (
	phoneKeyPrefix = "customer:phone:"
	emailKeyPrefix = "customer:email:"
)

// NewClient creates a Redis client from configuration and verifies the connection.
// Returns nil, nil when no Redis URL is configured.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// LookupCache implements domain.LookupCache on Redis.
type LookupCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLookupCache creates a lookup cache. A zero ttl keeps entries without expiry.
func NewLookupCache(client *redis.Client, ttl time.Duration) *LookupCache {
	return &LookupCache{client: client, ttl: ttl}
}

func (c *LookupCache) GetByEmail(ctx context.Context, email string) (*domain.CustomerRecord, error) {
	return c.get(ctx, emailKeyPrefix+email)
}

func (c *LookupCache) GetByPhone(ctx context.Context, phone string) (*domain.CustomerRecord, error) {
	return c.get(ctx, phoneKeyPrefix+phone)
}

// Put stores a redacted copy of the record under both its email and phone keys.
func (c *LookupCache) Put(ctx context.Context, record *domain.CustomerRecord) error {
	if record == nil {
		return nil
	}
	payload, err := json.Marshal(record.Redacted())
	if err != nil {
		return fmt.Errorf("marshal cached customer: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, emailKeyPrefix+record.Email, payload, c.ttl)
	pipe.Set(ctx, phoneKeyPrefix+record.PhoneNumber, payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache customer %q: %w", record.ID, err)
	}
	return nil
}

func (c *LookupCache) get(ctx context.Context, key string) (*domain.CustomerRecord, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache key %q: %w", key, err)
	}

	var record domain.CustomerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode cache key %q: %w", key, err)
	}
	return &record, nil
}
