package passage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"studysync/pkg/types"
)

// Cache stores resolved passages by canonical reference. A miss is
// (zero, false, nil); an error means the cache itself failed.
type Cache interface {
	Get(ctx context.Context, key string) (types.Passage, bool, error)
	Set(ctx context.Context, key string, p types.Passage) error
}

// LRUCache is the in-process cache used by single-node deployments.
type LRUCache struct {
	lru *expirable.LRU[string, types.Passage]
}

func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: expirable.NewLRU[string, types.Passage](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, key string) (types.Passage, bool, error) {
	p, ok := c.lru.Get(key)
	return p, ok, nil
}

func (c *LRUCache) Set(_ context.Context, key string, p types.Passage) error {
	c.lru.Add(key, p)
	return nil
}

func (c *LRUCache) Len() int {
	return c.lru.Len()
}

// RedisCache shares lookups between nodes.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects and pings with a short timeout.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "studysync:passage:", ttl: ttl}
}

func (c *RedisCache) key(reference string) string {
	return c.prefix + reference
}

func (c *RedisCache) Get(ctx context.Context, key string) (types.Passage, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Passage{}, false, nil
	}
	if err != nil {
		return types.Passage{}, false, err
	}

	var p types.Passage
	if err := json.Unmarshal(val, &p); err != nil {
		return types.Passage{}, false, fmt.Errorf("passage cache: failed to unmarshal: %w", err)
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, p types.Passage) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("passage cache: failed to marshal: %w", err)
	}
	return c.client.Set(ctx, c.key(key), data, c.ttl).Err()
}
