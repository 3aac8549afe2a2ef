package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/mq"
)

// KafkaAlertPublisher 将告警事件写入 Kafka
type KafkaAlertPublisher struct {
	writer mq.Writer
}

// NewKafkaAlertPublisher 创建告警事件发布者
func NewKafkaAlertPublisher(writer mq.Writer) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{writer: writer}
}

var _ domain.EventPublisher = (*KafkaAlertPublisher)(nil)

// PublishRiskAlert 以 accountCode:severity 为 key 发布，关联 ID 同时写入消息头
func (p *KafkaAlertPublisher) PublishRiskAlert(ctx context.Context, event domain.RiskAlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal risk alert event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: data,
		Headers: []kafka.Header{
			{Key: mq.HeaderCorrelationID, Value: []byte(event.CorrelationID)},
			{Key: "eventType", Value: []byte(event.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish risk alert %s: %w", event.AlertID, err)
	}

	logger.Debug(ctx, "risk alert event published",
		"alert_id", event.AlertID,
		"event_id", event.EventID,
		"key", event.PartitionKey(),
	)
	return nil
}

// Close 关闭底层生产者
func (p *KafkaAlertPublisher) Close() error {
	return p.writer.Close()
}
