// Package ratelimit implements the per-subject sliding-window request limiter
// that admits or rejects every inbound command.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"deskbridge/pkg/bridge"
)

const defaultShardCount = 32

// Limiter counts requests per subject within a sliding window.
//
// The subject space is split across shards selected by key hash. Calls for
// the same subject serialize on one shard lock; calls for subjects in other
// shards proceed independently.
type Limiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time
	shards      []*shard
}

type shard struct {
	mu       sync.Mutex
	subjects map[string][]time.Time
}

type config struct {
	now    func() time.Time
	shards int
}

// Option mutates limiter construction configuration.
type Option func(*config)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
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

// New creates a limiter admitting maxRequests per subject within window.
func New(maxRequests int, window time.Duration, options ...Option) (*Limiter, error) {
	if maxRequests <= 0 {
		return nil, &bridge.ConfigError{Field: "rate_limit.max_requests", Reason: "must be > 0"}
	}
	if window <= 0 {
		return nil, &bridge.ConfigError{Field: "rate_limit.window", Reason: "must be > 0"}
	}

	cfg := config{now: time.Now, shards: defaultShardCount}
	for _, option := range options {
		option(&cfg)
	}

	shards := make([]*shard, cfg.shards)
	for index := range shards {
		shards[index] = &shard{subjects: make(map[string][]time.Time)}
	}

	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         cfg.now,
		shards:      shards,
	}, nil
}

// MaxRequests returns the configured per-window quota.
func (l *Limiter) MaxRequests() int {
	return l.maxRequests
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// IsRateLimited reports whether subject is over quota.
//
// An admitted call is recorded; a rejected call is not and consumes no quota.
func (l *Limiter) IsRateLimited(subject string) bool {
	limited, _ := l.Allow(subject)

	return limited
}

// RemainingTime returns how long until subject gets one slot back, or 0.
func (l *Limiter) RemainingTime(subject string) time.Duration {
	s := l.shardFor(subject)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := s.prune(subject, now, l.window)

	return l.remaining(stamps, now)
}

// Allow applies the IsRateLimited decision and returns the remaining wait
// computed under the same lock.
func (l *Limiter) Allow(subject string) (limited bool, retryAfter time.Duration) {
	s := l.shardFor(subject)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := s.prune(subject, now, l.window)
	if len(stamps) >= l.maxRequests {
		return true, l.remaining(stamps, now)
	}
	s.subjects[subject] = append(stamps, now)

	return false, 0
}

// Len returns the number of subjects currently holding timestamps.
func (l *Limiter) Len() int {
	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.subjects)
		s.mu.Unlock()
	}

	return total
}

func (l *Limiter) remaining(stamps []time.Time, now time.Time) time.Duration {
	if len(stamps) == 0 {
		return 0
	}
	wait := l.window - now.Sub(stamps[0])
	if wait < 0 {
		return 0
	}

	return wait
}

func (l *Limiter) shardFor(subject string) *shard {
	return l.shards[xxhash.Sum64String(subject)%uint64(len(l.shards))]
}

// prune drops timestamps at least window old and removes emptied subjects.
// Callers must hold s.mu.
func (s *shard) prune(subject string, now time.Time, window time.Duration) []time.Time {
	stamps, ok := s.subjects[subject]
	if !ok {
		return nil
	}

	keepFrom := len(stamps)
	for index, stamp := range stamps {
		if now.Sub(stamp) < window {
			keepFrom = index
			break
		}
	}
	if keepFrom == len(stamps) {
		delete(s.subjects, subject)
		return nil
	}
	if keepFrom > 0 {
		stamps = append(stamps[:0], stamps[keepFrom:]...)
		s.subjects[subject] = stamps
	}

	return stamps
}
