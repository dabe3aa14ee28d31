package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/shineum/mail-composer/internal/mailer"
)

// DefaultCacheTTL is used when a RedisCache is created without a TTL.
const DefaultCacheTTL = 5 * time.Minute

// RedisClient is the subset of the go-redis client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Repository is a template and partial source.
type Repository interface {
	mailer.TemplateRepository
	mailer.PartialRepository
}

// RedisCache is a read-through cache in front of a Repository. Entries are
// stored as JSON. Cache failures are logged and fall through to the
// underlying repository, so Redis is never required for correctness.
type RedisCache struct {
	client RedisClient
	next   Repository
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisCache wraps next with a Redis cache.
func NewRedisCache(client RedisClient, next Repository, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		client: client,
		next:   next,
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    ttl,
	}
}

// OpenRedis connects to the Redis server at url (redis:// or rediss://) and
// checks the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// GetTemplate returns the template, from cache when possible.
func (c *RedisCache) GetTemplate(ctx context.Context, id int) (*mailer.Template, error) {
	return readThrough(ctx, c, c.key("template", strconv.Itoa(id)), func(ctx context.Context) (*mailer.Template, error) {
		return c.next.GetTemplate(ctx, id)
	})
}

// GetPartial returns the partial, from cache when possible.
func (c *RedisCache) GetPartial(ctx context.Context, key string) (*mailer.Partial, error) {
	return readThrough(ctx, c, c.key("partial", key), func(ctx context.Context) (*mailer.Partial, error) {
		return c.next.GetPartial(ctx, key)
	})
}

func (c *RedisCache) key(kind, id string) string {
	if c.prefix == "" {
		return kind + ":" + id
	}
	return c.prefix + ":" + kind + ":" + id
}

// readThrough serves key from Redis or loads it with fetch. Concurrent misses
// for the same key share one fetch. Lookup errors from fetch, including not
// found, are returned and never cached.
func readThrough[V any](ctx context.Context, c *RedisCache, key string, fetch func(context.Context) (*V, error)) (*V, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v V
		uerr := json.Unmarshal(data, &v)
		if uerr == nil {
			return &v, nil
		}
		slog.Warn("discarding corrupt catalog cache entry", "key", key, "error", uerr)
	case errors.Is(err, redis.Nil):
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		slog.Warn("catalog cache read failed", "key", key, "error", err)
	}

	// The shared fetch must not inherit one caller's cancellation; each caller
	// stops waiting on its own context instead.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(v); err != nil {
			slog.Warn("failed to encode catalog cache entry", "key", key, "error", err)
		} else if err := c.client.Set(fetchCtx, key, data, c.ttl).Err(); err != nil {
			slog.Warn("catalog cache write failed", "key", key, "error", err)
		}
		return v, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(*V), nil
}
