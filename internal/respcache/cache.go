// Package respcache stores rendered command responses with a fixed time to live.
//
// Expiry is lazy: an expired entry stays in memory until the next Get for its
// key removes it. There is no sweeper goroutine.
package respcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"deskbridge/pkg/bridge"
)

const (
	// DefaultTTL is the freshness window applied when WithTTL is not given.
	DefaultTTL        = 5 * time.Minute
	defaultShardCount = 16
)

// Cache maps opaque keys to values stored with their insertion time.
type Cache[V any] struct {
	ttl      time.Duration
	now      func() time.Time
	shardCap int
	shards   []*shard[V]
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	// order holds entries oldest insertion first for capacity eviction.
	order *list.List
}

type config struct {
	ttl        time.Duration
	now        func() time.Time
	maxEntries int
	shards     int
}

// Option mutates cache construction configuration.
type Option func(*config)

// WithTTL sets how long a stored value stays fresh. Non-positive values fail New.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *config) {
		cfg.ttl = ttl
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithMaxEntries bounds live entries. Zero keeps the cache unbounded.
//
// The bound is split evenly across shards, so with several shards each one
// holds at most ceil(maxEntries/shards) entries.
func WithMaxEntries(maxEntries int) Option {
	return func(cfg *config) {
		cfg.maxEntries = maxEntries
	}
}

// WithShards sets the number of lock partitions.
func WithShards(count int) Option {
	return func(cfg *config) {
		if count > 0 {
			cfg.shards = count
		}
	}
}

// New creates an empty cache.
func New[V any](options ...Option) (*Cache[V], error) {
	cfg := config{
		ttl:    DefaultTTL,
		now:    time.Now,
		shards: defaultShardCount,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.ttl <= 0 {
		return nil, &bridge.ConfigError{Field: "cache.ttl", Reason: "must be > 0"}
	}
	if cfg.maxEntries < 0 {
		return nil, &bridge.ConfigError{Field: "cache.max_entries", Reason: "must be >= 0"}
	}

	shardCap := 0
	if cfg.maxEntries > 0 {
		shardCap = (cfg.maxEntries + cfg.shards - 1) / cfg.shards
	}
	shards := make([]*shard[V], cfg.shards)
	for index := range shards {
		shards[index] = &shard[V]{
			entries: make(map[string]*list.Element),
			order:   list.New(),
		}
	}

	return &Cache[V]{
		ttl:      cfg.ttl,
		now:      cfg.now,
		shardCap: shardCap,
		shards:   shards,
	}, nil
}

// TTL returns the configured freshness window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key while it is fresh. An expired entry is evicted.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	stored := element.Value.(*entry[V])
	if now.Sub(stored.storedAt) > c.ttl {
		s.remove(element)
		return zero, false
	}

	return stored.value, true
}

// Set stores value under key, replacing any prior entry.
func (c *Cache[V]) Set(key string, value V) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.entries[key]; ok {
		stored := element.Value.(*entry[V])
		stored.value = value
		stored.storedAt = now
		s.order.MoveToBack(element)
		return
	}

	if c.shardCap > 0 {
		for s.order.Len() >= c.shardCap {
			s.remove(s.order.Front())
		}
	}
	s.entries[key] = s.order.PushBack(&entry[V]{key: key, value: value, storedAt: now})
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.entries[key]; ok {
		s.remove(element)
	}
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]*list.Element)
		s.order.Init()
		s.mu.Unlock()
	}
}

// Len returns the number of stored entries, expired ones included until read.
func (c *Cache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}

	return total
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

func (s *shard[V]) remove(element *list.Element) {
	stored := element.Value.(*entry[V])
	delete(s.entries, stored.key)
	s.order.Remove(element)
}

var _ bridge.ResponseCache = (*Cache[bridge.Reply])(nil)
