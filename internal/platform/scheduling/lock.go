package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker grants a job run to at most one replica at a time. ok is false
// when another holder already has name.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type redisLocker struct {
	client *redislock.Client
	prefix string
}

// NewRedisLocker locks job runs with redislock under prefix+name.
func NewRedisLocker(rdb *redis.Client, prefix string) Locker {
	return &redisLocker{client: redislock.New(rdb), prefix: prefix}
}

func (l *redisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return func() {
		// Release with a fresh context: the job context may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = lock.Release(ctx)
	}, true, nil
}
