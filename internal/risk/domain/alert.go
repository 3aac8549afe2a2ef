package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType 告警类型
type AlertType string

const (
	AlertTypeLimitBreach           AlertType = "LIMIT_BREACH"
	AlertTypeLimitWarning          AlertType = "LIMIT_WARNING"
	AlertTypePositionConcentration AlertType = "POSITION_CONCENTRATION"
	AlertTypeUnusualActivity       AlertType = "UNUSUAL_ACTIVITY"
	AlertTypeLossThreshold         AlertType = "LOSS_THRESHOLD"
)

// Severity 告警等级
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank 等级排序值，越大越严重
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "OPEN"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
	AlertStatusDismissed    AlertStatus = "DISMISSED"
)

// ResolveReason 告警关闭原因
type ResolveReason string

const (
	ResolveReasonAuto          ResolveReason = "auto"
	ResolveReasonInconsistency ResolveReason = "inconsistency"
	ResolveReasonManual        ResolveReason = "manual"
)

// DedupKey 去重键，同一键下最多存在一条 OPEN 告警
type DedupKey struct {
	AlertType   AlertType
	AccountCode string
	Symbol      string
}

func (k DedupKey) String() string {
	return strings.Join([]string{string(k.AlertType), k.AccountCode, k.Symbol}, "|")
}

// RiskAlert 风险告警实体
type RiskAlert struct {
	ID                string          `json:"id"`
	LimitID           uint64          `json:"limit_id"`
	AlertType         AlertType       `json:"alert_type"`
	Severity          Severity        `json:"severity"`
	AccountCode       string          `json:"account_code"`
	Symbol            string          `json:"symbol"`
	PositionID        string          `json:"position_id,omitempty"`
	TriggeringTradeID string          `json:"triggering_trade_id,omitempty"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	LimitValue        decimal.Decimal `json:"limit_value"`
	UtilizationPct    decimal.Decimal `json:"utilization_pct"`
	Message           string          `json:"message"`
	Status            AlertStatus     `json:"status"`
	AcknowledgedBy    string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Key 告警所属的去重键
func (a *RiskAlert) Key() DedupKey {
	return DedupKey{AlertType: a.AlertType, AccountCode: a.AccountCode, Symbol: a.Symbol}
}

// IsOpen 是否处于 OPEN 状态
func (a *RiskAlert) IsOpen() bool {
	return a.Status == AlertStatusOpen
}

// Acknowledge 人工确认，仅允许 OPEN 状态
func (a *RiskAlert) Acknowledge(by string, now time.Time) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return NewValidationError("acknowledged_by", "is required")
	}
	if a.Status != AlertStatusOpen {
		return ErrInvalidTransition
	}
	a.Status = AlertStatusAcknowledged
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	return nil
}

// Resolve 关闭告警，允许 OPEN 或 ACKNOWLEDGED 状态
func (a *RiskAlert) Resolve(now time.Time) error {
	if a.Status != AlertStatusOpen && a.Status != AlertStatusAcknowledged {
		return ErrInvalidTransition
	}
	a.Status = AlertStatusResolved
	a.ResolvedAt = &now
	a.UpdatedAt = now
	return nil
}

// Dismiss 忽略告警，允许 OPEN 或 ACKNOWLEDGED 状态
func (a *RiskAlert) Dismiss(now time.Time) error {
	if a.Status != AlertStatusOpen && a.Status != AlertStatusAcknowledged {
		return ErrInvalidTransition
	}
	a.Status = AlertStatusDismissed
	a.UpdatedAt = now
	return nil
}
