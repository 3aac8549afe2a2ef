package domain

import "context"

// EventPublisher 告警事件发布者接口
type EventPublisher interface {
	// PublishRiskAlert 发布风险告警事件，失败由调用方记录，不回滚告警
	PublishRiskAlert(ctx context.Context, event RiskAlertEvent) error
}
