package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository 记录 Kafka 入库任务的重试次数。
type AttemptRepository interface {
	Incr(ctx context.Context, filename string) (int64, error)
	Reset(ctx context.Context, filename string) error
}

type redisAttemptRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAttemptRepository 创建基于 Redis 的计数器；client 为 nil 时退化为进程内计数。
func NewAttemptRepository(client *redis.Client, ttl time.Duration) AttemptRepository {
	if client == nil {
		return newMemoryAttemptRepository()
	}
	return &redisAttemptRepository{client: client, ttl: ttl}
}

func (r *redisAttemptRepository) key(filename string) string {
	return "ingest:attempts:" + filename
}

// Incr 自增并返回当前次数，首次写入时设置过期时间。
func (r *redisAttemptRepository) Incr(ctx context.Context, filename string) (int64, error) {
	k := r.key(filename)
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && r.ttl > 0 {
		r.client.Expire(ctx, k, r.ttl)
	}
	return n, nil
}

// Reset 清除计数。
func (r *redisAttemptRepository) Reset(ctx context.Context, filename string) error {
	return r.client.Del(ctx, r.key(filename)).Err()
}
