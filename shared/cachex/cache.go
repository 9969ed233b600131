// Package cachex wraps the redis client for the read-through caches the
// services keep: today that is tenant slug resolution, which runs on every
// request before a tenant is bound.
package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"vm-request-platform/shared/config"
)

// TenantSlugTTL bounds how long a renamed or deleted tenant slug keeps
// resolving from cache.
const TenantSlugTTL = 5 * time.Minute

const tenantSlugPrefix = "tenant:slug:"

// TenantSlugKey is the cache key for one slug's tenant record. All slug
// entries share the prefix so they can be invalidated as a group.
func TenantSlugKey(slug string) string {
	return tenantSlugPrefix + slug
}

type Client struct {
	rdb *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client not initialized")
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// SetJSON stores value marshalled as JSON under key for ttl.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client not initialized")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// GetJSON unmarshals the entry under key into dest. A miss is (false, nil),
// not an error: callers fall through to the backing store.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, errors.New("redis client not initialized")
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil {
		return errors.New("redis client not initialized")
	}
	return c.rdb.Del(ctx, key).Err()
}

// Client exposes the underlying connection for packages that need raw
// redis commands, such as the lock helpers.
func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}
