// Package dedup remembers client-supplied idempotency keys so a retried send
// is reported as a duplicate instead of creating a second message.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claimed key is remembered.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "messaging:idem:"
)

// Filter claims keys. Claim returns true the first time a key is seen
// within the TTL. Forget releases a key whose send did not go through.
type Filter interface {
	Claim(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// RedisFilter is backed by SET NX with expiry.
type RedisFilter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisFilter(rdb *redis.Client, ttl time.Duration) *RedisFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{rdb: rdb, ttl: ttl}
}

func (f *RedisFilter) Claim(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

func (f *RedisFilter) Forget(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// MemoryFilter is the in-process variant.
type MemoryFilter struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (f *MemoryFilter) Claim(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if exp, ok := f.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	f.seen[key] = now.Add(f.ttl)
	return true, nil
}

func (f *MemoryFilter) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}
