package database

import (
	"context"
	"fmt"
	"time"

	"manual-smart-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 是服务进程共享的 Redis 客户端，未配置 Redis 时为 nil。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端。addr 为空时不启用 Redis，
// Kafka 消费者的失败计数改用进程内计数器。
func InitRedis(addr, password string, db int) {
	if addr == "" {
		log.Warnf("Redis 地址为空，跳过 Redis 初始化")
		return
	}
	client, err := OpenRedis(context.Background(), addr, password, db)
	if err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	RDB = client
	log.Info("Redis client connected successfully")
}

// OpenRedis 创建客户端并通过 PING 确认连接可用。
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}
