package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// NoopLimiter пропускает все запросы
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// redisLimiter фиксированное окно на счетчиках Redis с TTL, общий для всех инстансов
type redisLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) RateLimiter {
	return &redisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "cca:ratelimit:",
	}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	// EXPIRE NX на каждом запросе: ключ без TTL получит его при следующем вызове
	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate counter: %w", err)
	}
	return count.Val() <= l.limit, nil
}

// localLimiter token bucket на ключ, когда Redis не настроен.
// Бакет, простоявший окно, уже полон, поэтому его можно выбросить.
type localLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(limit int, window time.Duration) RateLimiter {
	return newLocalLimiter(limit, window, time.Now)
}

func newLocalLimiter(limit int, window time.Duration, now func() time.Time) *localLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &localLimiter{
		buckets:   make(map[string]*localBucket),
		limit:     rate.Every(window / time.Duration(limit)),
		burst:     limit,
		idle:      window,
		lastPrune: now(),
		now:       now,
	}
}

func (l *localLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) >= l.idle {
		l.prune(now)
	}

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &localBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.AllowN(now, 1), nil
}

func (l *localLimiter) prune(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}
