package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	// DefaultTTL is how long a decision stays cached
	DefaultTTL = 15 * time.Minute

	// DefaultMaxEntries bounds the number of cached decisions across all shards
	DefaultMaxEntries = 65536

	// DefaultShards is the number of lock shards in MemoryCache
	DefaultShards = 32
)

// ErrCacheClosed is returned by a cache after Close
var ErrCacheClosed = errors.New("cache closed")

// ComputeFunc produces the value for a cache miss
type ComputeFunc func(ctx context.Context) (bool, error)

// Cache memoizes permission decisions per (user, resource, action)
type Cache interface {
	// GetOrCompute returns the cached decision or runs compute and caches its
	// result. Errors from compute are returned and never cached.
	GetOrCompute(ctx context.Context, userID int64, resource, action string, compute ComputeFunc) (bool, error)

	// InvalidateUser drops every cached decision for one user
	InvalidateUser(ctx context.Context, userID int64) error

	// InvalidateAll drops every cached decision
	InvalidateAll(ctx context.Context) error

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Recorder receives hit and miss events, typically Prometheus counters
type Recorder interface {
	RecordCacheHit(backend string)
	RecordCacheMiss(backend string)
}

// Stats represents cache statistics
type Stats struct {
	Backend   string  `json:"backend"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	ItemCount int64   `json:"item_count"`
}

// Config holds cache configuration
type Config struct {
	TTL        time.Duration
	MaxEntries int
	Shards     int
	Recorder   Recorder
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:        DefaultTTL,
		MaxEntries: DefaultMaxEntries,
		Shards:     DefaultShards,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	if c.TTL > 0 {
		out.TTL = c.TTL
	}
	if c.MaxEntries > 0 {
		out.MaxEntries = c.MaxEntries
	}
	if c.Shards > 0 {
		out.Shards = c.Shards
	}
	out.Recorder = c.Recorder
	return out
}

// Key builds the cache key "{user}:{resource}:{action}"
func Key(userID int64, resource, action string) string {
	return strconv.FormatInt(userID, 10) + ":" + resource + ":" + action
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
