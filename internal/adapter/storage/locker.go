package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// RedisLocker hands out short leases shared by every replica using the
// same Redis.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.client.Obtain(ctx, lockKeyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "obtain lock %s", key)
	}

	release := func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return errors.Wrapf(err, "release lock %s", key)
	}
	return release, true, nil
}

// LocalLocker is the single-process Locker used with the memory backend.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}
