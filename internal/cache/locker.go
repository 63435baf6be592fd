package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RedisLocker hands out per-video locks shared by every API and worker process
type RedisLocker struct {
	cache *Cache
	ttl   time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl unless the
// holder keeps renewing them
func NewRedisLocker(c *Cache, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{cache: c, ttl: ttl}
}

// TryAcquire takes the lock for key without waiting. The lock is renewed
// every ttl/3 until released. The returned release func is safe to call more
// than once.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token, ok, err := l.cache.TryLock(ctx, key, l.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.cache.Unlock(ctx, key, token); err != nil {
				log.Warn().Err(err).Str("lock", key).Msg("failed to release lock")
			}
		})
	}, true, nil
}

func (l *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		held, err := l.cache.RefreshLock(ctx, key, token, l.ttl)
		cancel()
		switch {
		case err != nil:
			log.Warn().Err(err).Str("lock", key).Msg("failed to renew lock")
		case !held:
			log.Error().Str("lock", key).Msg("lock lost before release")
			return
		}
	}
}
