package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectWindowHit(mock redismock.ClientMock, key string, count int64, window time.Duration) {
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(count)
	mock.ExpectExpireNX(key, window).SetVal(count == 1)
	mock.ExpectTxPipelineExec()
}

func TestRedisLimiter_Allow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()
	key := "cca:ratelimit:waitlist:join:u1"

	expectWindowHit(mock, key, 1, time.Minute)
	expectWindowHit(mock, key, 2, time.Minute)
	expectWindowHit(mock, key, 3, time.Minute)

	ok, err := limiter.Allow(ctx, "waitlist:join:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "waitlist:join:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "waitlist:join:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_FailedExpireIsRetried(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisLimiter(client, 2, time.Minute)
	ctx := context.Background()
	key := "cca:ratelimit:waitlist:accept:u1"

	// первый EXPIRE не прошел, ключ остался без TTL
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpireNX(key, time.Minute).SetErr(errors.New("i/o timeout"))
	mock.ExpectTxPipelineExec()

	// следующий запрос снова ставит окно
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectExpireNX(key, time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	_, err := limiter.Allow(ctx, "waitlist:accept:u1")
	assert.Error(t, err)

	ok, err := limiter.Allow(ctx, "waitlist:accept:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_RedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRedisLimiter(client, 2, time.Minute)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("cca:ratelimit:k").SetErr(errors.New("connection refused"))

	ok, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLocalLimiter_Allow(t *testing.T) {
	limiter := NewLocalLimiter(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}

	ok, _ := limiter.Allow(ctx, "a")
	assert.False(t, ok)

	// у другого ключа свой бакет
	ok, _ = limiter.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestLocalLimiter_EvictsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	limiter := newLocalLimiter(2, time.Minute, clock.Now)
	ctx := context.Background()

	for _, key := range []string{"u1", "u2", "u3"} {
		_, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
	}
	assert.Len(t, limiter.buckets, 3)

	clock.Advance(30 * time.Second)
	_, _ = limiter.Allow(ctx, "u1")

	clock.Advance(45 * time.Second)
	_, _ = limiter.Allow(ctx, "u4")

	// u2 и u3 простояли окно, u1 был активен
	assert.Len(t, limiter.buckets, 2)
	assert.Contains(t, limiter.buckets, "u1")
	assert.Contains(t, limiter.buckets, "u4")
}

func TestLocalLimiter_EvictedKeyStartsWithFullBucket(t *testing.T) {
	clock := newFakeClock()
	limiter := newLocalLimiter(1, time.Minute, clock.Now)
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "u1")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "u1")
	assert.False(t, ok)

	clock.Advance(time.Minute)
	ok, _ = limiter.Allow(ctx, "u1")
	assert.True(t, ok)
}

func TestNoopLimiter(t *testing.T) {
	ok, err := NoopLimiter{}.Allow(context.Background(), "any")
	assert.NoError(t, err)
	assert.True(t, ok)
}
