// Package dedup drops inbound messages the bridge delivers more than once,
// which happens when it replays recent history after a reconnect.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen message id is remembered.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "gateway:seen:"
)

// Filter tracks which message ids have already been processed.
type Filter interface {
	// IsNew reports whether id has not been seen within the TTL and marks it seen.
	IsNew(ctx context.Context, id string) (bool, error)
}

// Nop accepts every message.
type Nop struct{}

func (Nop) IsNew(context.Context, string) (bool, error) { return true, nil }

// MemoryFilter is an in-process Filter. Expired ids are swept at most once per TTL.
type MemoryFilter struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{
		seen: map[string]time.Time{},
		ttl:  ttl,
		now:  time.Now,
	}
}

func (f *MemoryFilter) IsNew(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.lastSweep) >= f.ttl {
		for key, expires := range f.seen {
			if !now.Before(expires) {
				delete(f.seen, key)
			}
		}
		f.lastSweep = now
	}
	if expires, ok := f.seen[id]; ok && now.Before(expires) {
		return false, nil
	}
	f.seen[id] = now.Add(f.ttl)
	return true, nil
}

// RedisFilter shares seen ids between gateway replicas.
type RedisFilter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisFilter creates a dedup filter backed by Redis.
func NewRedisFilter(rdb redis.Cmdable, ttl time.Duration) *RedisFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{rdb: rdb, ttl: ttl}
}

// IsNew marks id as seen atomically with SET NX.
func (f *RedisFilter) IsNew(ctx context.Context, id string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+id, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// OpenRedis parses url, connects and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
