// Package refcache stores PubMed reference lookups in Redis.
package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

const keyPrefix = "refcache:"

// RedisCache implements domain.ReferenceCache. Expiry is the Redis key TTL.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisCache returns a cache whose entries expire ttl after creation.
func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Key derives the storage key for an exact query string.
func Key(query string) string { return keyPrefix + query }

// Get returns ok=false on a miss.
func (c *RedisCache) Get(ctx context.Context, query string) ([]domain.Citation, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(query)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=refcache.Get: %w", err)
	}
	var entry domain.ReferenceCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("op=refcache.Get: decode: %w", err)
	}
	if entry.Results == nil {
		entry.Results = []domain.Citation{}
	}
	return entry.Results, true, nil
}

// Put stores entry only if the key does not exist yet.
func (c *RedisCache) Put(ctx context.Context, entry domain.ReferenceCacheEntry) error {
	if strings.TrimSpace(entry.Query) == "" {
		return fmt.Errorf("op=refcache.Put: %w: empty query", domain.ErrInvalidArgument)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("op=refcache.Put: encode: %w", err)
	}
	if err := c.rdb.SetNX(ctx, Key(entry.Query), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("op=refcache.Put: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
