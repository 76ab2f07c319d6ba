package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

const redisBackend = "redis"

// NewRedisClient parses url and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisCache shares decisions between processes. Each user's decisions live in
// one hash under a generation-prefixed key: InvalidateUser deletes the hash and
// InvalidateAll bumps the generation so every old hash becomes unreachable.
type RedisCache struct {
	client *redis.Client
	prefix string
	config *Config
	now    func() time.Time

	group   singleflight.Group
	metrics *metrics
	closed  atomic.Bool
}

// NewRedisCache creates a cache over client. Keys are namespaced by prefix.
func NewRedisCache(client *redis.Client, prefix string, config *Config) *RedisCache {
	if prefix == "" {
		prefix = "rolegate:perm"
	}
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		config:  config.withDefaults(),
		now:     time.Now,
		metrics: newMetrics(),
	}
}

func (c *RedisCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *RedisCache) userKey(generation int64, userID int64) string {
	return fmt.Sprintf("%s:%d:user:%d", c.prefix, generation, userID)
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// encodeEntry stores a decision with its own expiry, since hash fields cannot
// expire individually
func encodeEntry(allowed bool, expiresAt time.Time) string {
	v := "0"
	if allowed {
		v = "1"
	}
	return v + "|" + strconv.FormatInt(expiresAt.UnixNano(), 10)
}

func decodeEntry(raw string) (allowed bool, expiresAt time.Time, ok bool) {
	flag, exp, found := strings.Cut(raw, "|")
	if !found || (flag != "0" && flag != "1") {
		return false, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return false, time.Time{}, false
	}
	return flag == "1", time.Unix(0, nanos), true
}

// GetOrCompute returns the cached decision or computes and stores it. Redis
// failures on the read side fall through to compute.
func (c *RedisCache) GetOrCompute(ctx context.Context, userID int64, resource, action string, compute ComputeFunc) (bool, error) {
	if c.closed.Load() {
		return false, ErrCacheClosed
	}

	field := Key(userID, resource, action)
	gen, genErr := c.generation(ctx)
	key := c.userKey(gen, userID)

	if genErr == nil {
		raw, err := c.client.HGet(ctx, key, field).Result()
		if err == nil {
			if allowed, expiresAt, ok := decodeEntry(raw); ok && c.now().Before(expiresAt) {
				c.metrics.recordHit()
				if c.config.Recorder != nil {
					c.config.Recorder.RecordCacheHit(redisBackend)
				}
				return allowed, nil
			}
		}
	}

	c.metrics.recordMiss()
	if c.config.Recorder != nil {
		c.config.Recorder.RecordCacheMiss(redisBackend)
	}

	result, err, _ := c.group.Do(key+"|"+field, func() (interface{}, error) {
		allowed, err := compute(ctx)
		if err != nil {
			return false, err
		}
		if genErr == nil {
			pipe := c.client.TxPipeline()
			pipe.HSet(ctx, key, field, encodeEntry(allowed, c.now().Add(c.config.TTL)))
			pipe.Expire(ctx, key, c.config.TTL)
			// A failed write only costs a later recompute
			_, _ = pipe.Exec(ctx)
		}
		return allowed, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// InvalidateUser deletes the user's hash for the current generation
func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.userKey(gen, userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// InvalidateAll moves every process to a new generation
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}
	return nil
}

// Stats returns this process's hit and miss counts. ItemCount is not tracked
// for the shared backend and stays zero.
func (c *RedisCache) Stats(ctx context.Context) (*Stats, error) {
	hits, misses := c.metrics.getHits(), c.metrics.getMisses()
	return &Stats{
		Backend: redisBackend,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.client.Close()
}
