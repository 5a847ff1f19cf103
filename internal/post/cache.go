package post

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps single posts in redis as JSON. A nil *Cache is a valid,
// always-missing cache.
type Cache struct {
	r   *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if rdb == nil {
		return nil
	}
	return &Cache{r: rdb, ttl: ttl}
}

func cacheKey(id string) string { return "post:" + id }

func (c *Cache) Get(ctx context.Context, id string) (Post, bool) {
	if c == nil {
		return Post{}, false
	}
	b, err := c.r.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		return Post{}, false
	}
	var p Post
	if err := json.Unmarshal(b, &p); err != nil {
		return Post{}, false
	}
	return p, true
}

func (c *Cache) Set(ctx context.Context, p Post) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.r.Set(ctx, cacheKey(p.ID), b, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if c == nil {
		return nil
	}
	return c.r.Del(ctx, cacheKey(id)).Err()
}
