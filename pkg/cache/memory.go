package cache

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const memoryBackend = "memory"

// shard owns one LRU and the invalidation generation of each user hashed to it.
// A user's entries are keyed by their generation, so bumping it hides every old
// entry at once; the hidden entries age out through the LRU.
type shard struct {
	mu          sync.RWMutex
	generations map[int64]uint64
	entries     *lru.LRU[string, bool]
}

// MemoryCache is an in-process permission cache. Users are spread over shards by
// xxhash; the global lock is taken exclusively only by InvalidateAll.
type MemoryCache struct {
	config *Config

	global sync.RWMutex
	epoch  uint64
	shards []*shard
	closed atomic.Bool

	nextGeneration atomic.Uint64
	group          singleflight.Group
	metrics        *metrics
}

// NewMemoryCache creates an in-process cache
func NewMemoryCache(config *Config) *MemoryCache {
	config = config.withDefaults()

	perShard := config.MaxEntries / config.Shards
	if perShard < 16 {
		perShard = 16
	}

	shards := make([]*shard, config.Shards)
	for i := range shards {
		shards[i] = &shard{
			generations: make(map[int64]uint64),
			entries:     lru.NewLRU[string, bool](perShard, nil, config.TTL),
		}
	}

	return &MemoryCache{
		config:  config,
		shards:  shards,
		metrics: newMetrics(),
	}
}

func (c *MemoryCache) shardFor(userID int64) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(userID))
	return c.shards[xxhash.Sum64(buf[:])%uint64(len(c.shards))]
}

// version captures the epoch and the user's generation for one lookup
type version struct {
	epoch      uint64
	generation uint64
}

func (v version) key(userID int64, resource, action string) string {
	return strconv.FormatUint(v.epoch, 10) + "|" + strconv.FormatUint(v.generation, 10) + "|" + Key(userID, resource, action)
}

// GetOrCompute returns the cached decision or computes it. Concurrent misses on
// the same key share one computation, and a result computed across an
// invalidation is returned but not stored.
func (c *MemoryCache) GetOrCompute(ctx context.Context, userID int64, resource, action string, compute ComputeFunc) (bool, error) {
	if c.closed.Load() {
		return false, ErrCacheClosed
	}

	s := c.shardFor(userID)

	c.global.RLock()
	s.mu.RLock()
	v := version{epoch: c.epoch, generation: s.generations[userID]}
	s.mu.RUnlock()
	c.global.RUnlock()

	key := v.key(userID, resource, action)
	if allowed, ok := s.entries.Get(key); ok {
		c.metrics.recordHit()
		if c.config.Recorder != nil {
			c.config.Recorder.RecordCacheHit(memoryBackend)
		}
		return allowed, nil
	}

	c.metrics.recordMiss()
	if c.config.Recorder != nil {
		c.config.Recorder.RecordCacheMiss(memoryBackend)
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		allowed, err := compute(ctx)
		if err != nil {
			return false, err
		}
		c.store(s, userID, v, key, allowed)
		return allowed, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// store writes the entry only if no invalidation happened since v was captured
func (c *MemoryCache) store(s *shard, userID int64, v version, key string, allowed bool) {
	c.global.RLock()
	defer c.global.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.epoch != v.epoch || s.generations[userID] != v.generation {
		return
	}
	s.entries.Add(key, allowed)
}

// InvalidateUser gives the user a fresh generation, hiding all their entries
func (c *MemoryCache) InvalidateUser(ctx context.Context, userID int64) error {
	c.global.RLock()
	defer c.global.RUnlock()

	s := c.shardFor(userID)
	s.mu.Lock()
	s.generations[userID] = c.nextGeneration.Add(1)
	s.mu.Unlock()
	return nil
}

// InvalidateAll purges every shard under the exclusive global lock
func (c *MemoryCache) InvalidateAll(ctx context.Context) error {
	c.global.Lock()
	defer c.global.Unlock()

	c.epoch++
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries.Purge()
		s.generations = make(map[int64]uint64)
		s.mu.Unlock()
	}
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats(ctx context.Context) (*Stats, error) {
	c.global.RLock()
	var items int64
	for _, s := range c.shards {
		items += int64(s.entries.Len())
	}
	c.global.RUnlock()

	hits, misses := c.metrics.getHits(), c.metrics.getMisses()
	return &Stats{
		Backend:   memoryBackend,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate(hits, misses),
		ItemCount: items,
	}, nil
}

// Close releases resources
func (c *MemoryCache) Close() error {
	c.closed.Store(true)
	return c.InvalidateAll(context.Background())
}

// metrics tracks cache metrics
type metrics struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func newMetrics() *metrics {
	return &metrics{}
}

func (m *metrics) recordHit() {
	m.hits.Add(1)
}

func (m *metrics) recordMiss() {
	m.misses.Add(1)
}

func (m *metrics) getHits() int64 {
	return m.hits.Load()
}

func (m *metrics) getMisses() int64 {
	return m.misses.Load()
}
