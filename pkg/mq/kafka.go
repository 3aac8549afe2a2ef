// Package mq 提供 Kafka producer/consumer 构造与消息头助手
package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/riskengine/pkg/logger"
)

// HeaderCorrelationID 关联 ID 消息头
const HeaderCorrelationID = "X-Correlation-ID"

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	MaxAttempts  int
	WriteTimeout time.Duration
}

// Writer 生产者抽象，*kafka.Writer 实现该接口
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader 消费者抽象，*kafka.Reader 实现该接口
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter 创建 Kafka 生产者，按消息 key 哈希分区
func NewWriter(cfg KafkaConfig, topic string) *kafka.Writer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll, // 等待所有副本确认
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           10 * time.Millisecond,
	}
	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers, "topic", topic)
	return w
}

// NewReader 创建消费组内的 Kafka 消费者，偏移量只在显式 CommitMessages 时提交
func NewReader(cfg KafkaConfig, topic string) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: 30 * time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6, // 10MB
	})
	logger.Info(context.Background(), "Kafka consumer created successfully",
		"brokers", cfg.Brokers,
		"topic", topic,
		"group_id", cfg.GroupID,
	)
	return r
}

// Header 读取消息头，不存在时返回空串
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
