package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when the owner's cart is not cached.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a read-through cache of carts keyed by owner.
type Cache interface {
	Get(ctx context.Context, ownerID string) (*Cart, error)
	// Store caches cart unless a copy with the same or a higher Version is
	// already cached.
	Store(ctx context.Context, ownerID string, cart *Cart) error
	Delete(ctx context.Context, ownerID string) error
}

// storeIfNewer replaces the cached body only when ARGV[1] is above the cached
// version.
var storeIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'body', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCache stores each cart as a hash of its version and JSON body with a
// jittered TTL.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

func (r *RedisCache) Get(ctx context.Context, ownerID string) (*Cart, error) {
	data, err := r.client.HGet(ctx, cacheKey(ownerID), "body").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget failed: %w", err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &c, nil
}

func (r *RedisCache) Store(ctx context.Context, ownerID string, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	keys := []string{cacheKey(ownerID)}
	if err := storeIfNewer.Run(ctx, r.client, keys, c.Version, data, r.ttl().Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis store failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, ownerID string) error {
	if err := r.client.Del(ctx, cacheKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	return r.baseTTL + jitter
}

func cacheKey(ownerID string) string {
	return fmt.Sprintf("cart:%s", ownerID)
}
