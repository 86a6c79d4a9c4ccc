package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records that a reminder keyed by key was already sent. First
// returns true only for the first caller within ttl.
type Guard interface {
	First(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type redisGuard struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisGuard(rdb *redis.Client, prefix string) Guard {
	if prefix == "" {
		prefix = "amu:reminder:"
	}
	return &redisGuard{rdb: rdb, prefix: prefix}
}

func (g *redisGuard) First(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// MemoryGuard is the single-process fallback when Redis is not configured.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) First(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// Sweep drops expired keys.
func (g *MemoryGuard) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
}

// ReminderKey is the once-per-day key for a history entry.
func ReminderKey(kind, entryID, day string) string {
	return kind + ":" + entryID + ":" + day
}
