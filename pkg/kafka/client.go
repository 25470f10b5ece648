// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"manual-smart-go/internal/config"
	"manual-smart-go/internal/pipeline"
	"manual-smart-go/internal/repository"
	"manual-smart-go/pkg/log"
	"manual-smart-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一任务的最大处理次数，超过后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 解耦 Kafka 消费者与具体的入库实现。
type TaskProcessor interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// Producer 发送入库任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceIngestTask 发送一个入库任务，以文件名作为消息 key，保证同名文件落在同一分区按序处理。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Filename),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// messageReader 是消费者使用的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理入库任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts repository.AttemptRepository) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "manual-smart-go-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	consume(ctx, r, processor, attempts, time.Second)

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor, attempts repository.AttemptRepository, backoff time.Duration) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}
		log.Infof("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)

		handle(ctx, m, processor, attempts, backoff)

		if err := r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理单条消息，返回时该消息即可提交。
func handle(ctx context.Context, m kafka.Message, processor TaskProcessor, attempts repository.AttemptRepository, backoff time.Duration) {
	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return
	}

	for {
		log.Infof("开始处理入库任务: filename=%s", task.Filename)
		res, err := processor.Ingest(ctx, task.Request())
		if err == nil {
			log.Infof("入库任务处理成功: filename=%s, id=%s, chunks=%d", task.Filename, res.ManualID, res.Chunks)
			_ = attempts.Reset(ctx, task.Filename)
			return
		}
		switch {
		case errors.Is(err, pipeline.ErrConflict):
			log.Warnf("文档正在由其他任务处理, 跳过: filename=%s", task.Filename)
			return
		case errors.Is(err, pipeline.ErrInvalidRequest):
			log.Errorf("入库任务参数不合法, 丢弃: filename=%s, error: %v", task.Filename, err)
			return
		}

		n, incErr := attempts.Incr(ctx, task.Filename)
		if incErr != nil {
			log.Errorf("记录重试次数失败, 放弃该任务: filename=%s, error: %v", task.Filename, incErr)
			return
		}
		if n >= maxAttempts {
			log.Errorf("入库任务多次失败(>=%d)，提交 offset 终止重试: filename=%s, error: %v", maxAttempts, task.Filename, err)
			_ = attempts.Reset(ctx, task.Filename)
			return
		}
		log.Warnf("入库任务失败, 第 %d 次, 稍后重试: filename=%s, error: %v", n, task.Filename, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff * time.Duration(n)):
		}
	}
}
